package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotFunc reports the current broker queue state
type SnapshotFunc func(ctx context.Context) domain.QueueSnapshot

type queueCollector struct {
	snapshot SnapshotFunc
	timeout  time.Duration
	logger   *slog.Logger

	depthDesc     *prometheus.Desc
	consumersDesc *prometheus.Desc
	upDesc        *prometheus.Desc
}

// NewQueueCollector exposes broker depth and consumer count on scrape
func NewQueueCollector(snapshot SnapshotFunc, logger *slog.Logger) prometheus.Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueCollector{
		snapshot: snapshot,
		timeout:  2 * time.Second,
		logger:   logger,
		depthDesc: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Messages waiting in the task queue.",
			nil, nil,
		),
		consumersDesc: prometheus.NewDesc(
			namespace+"_queue_consumers",
			"Workers currently consuming the task queue.",
			nil, nil,
		),
		upDesc: prometheus.NewDesc(
			namespace+"_queue_up",
			"Whether the broker answered the last inspection (1) or not (0).",
			nil, nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depthDesc
	ch <- c.consumersDesc
	ch <- c.upDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap := c.snapshot(ctx)
	if !snap.Available {
		c.logger.Debug("queue inspection failed", slog.String("reason", snap.Reason))
		ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.depthDesc, prometheus.GaugeValue, float64(snap.QueuedCount))
	ch <- prometheus.MustNewConstMetric(c.consumersDesc, prometheus.GaugeValue, float64(snap.ActiveWorkerCount))
}
