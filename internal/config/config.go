package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage backends for finished artifacts
const (
	StorageBackendFilesystem = "filesystem"
	StorageBackendRedis      = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Media     MediaConfig     `yaml:"media"`
	Video     VideoConfig     `yaml:"video"`
	Detector  DetectorConfig  `yaml:"detector"`
	Stats     StatsConfig     `yaml:"stats"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	// InspectTimeout bounds the passive queue declare behind /api/v1/queue
	InspectTimeout time.Duration `yaml:"inspect_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the Redis connection used by the redis artifact backend
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	// ID is the lease owner name; defaults to the hostname
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LeaseDuration     time.Duration `yaml:"lease_duration"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds artifact and staging storage settings
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	ResultDir  string `yaml:"result_dir"`
	StagingDir string `yaml:"staging_dir"`
	// ArtifactTTL bounds how long results, staged inputs and finished tasks are kept
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`
	// SweepInterval of 0 disables the sweeper
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MediaConfig holds submission limits
type MediaConfig struct {
	AllowedImageExtensions []string `yaml:"allowed_image_extensions"`
	AllowedVideoExtensions []string `yaml:"allowed_video_extensions"`
	MaxImages              int      `yaml:"max_images"`
	MaxImageMB             int      `yaml:"max_image_mb"`
	MaxVideoMB             int      `yaml:"max_video_mb"`
	MaxVideoSeconds        int      `yaml:"max_video_seconds"`
	JPEGQuality            int      `yaml:"jpeg_quality"`
}

// VideoConfig holds the video sampling policy and the ffmpeg toolchain settings
type VideoConfig struct {
	DetectEveryN     int           `yaml:"detect_every_n"`
	MaxFPS           int           `yaml:"max_fps"`
	DetectScale      float64       `yaml:"detect_scale"`
	PreserveAudio    *bool         `yaml:"preserve_audio"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	FFprobePath      string        `yaml:"ffprobe_path"`
	Preset           string        `yaml:"preset"`
	CRF              int           `yaml:"crf"`
	AudioBitrate     string        `yaml:"audio_bitrate"`
	WorkDir          string        `yaml:"work_dir"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// DetectorConfig holds the pigo cascade parameters
type DetectorConfig struct {
	CascadePath    string  `yaml:"cascade_path"`
	MinSize        int     `yaml:"min_size"`
	MaxSize        int     `yaml:"max_size"`
	ShiftFactor    float64 `yaml:"shift_factor"`
	ScaleFactor    float64 `yaml:"scale_factor"`
	IoUThreshold   float64 `yaml:"iou_threshold"`
	ScoreThreshold float32 `yaml:"score_threshold"`
	Padding        float64 `yaml:"padding"`
}

// StatsConfig holds the vanity counter store settings
type StatsConfig struct {
	Enabled             bool          `yaml:"enabled"`
	DBPath              string        `yaml:"db_path"`
	VisitorCookieName   string        `yaml:"visitor_cookie_name"`
	VisitorCookieMaxAge time.Duration `yaml:"visitor_cookie_max_age"`
}

// RateLimitConfig limits submissions per client IP
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// CORSConfig lists the browser origins allowed to call the API
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// Load reads and parses the configuration file. ${VAR} references are expanded
// from the environment, so values can come from a .env file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with the service defaults
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 30*time.Second)
	setDuration(&c.Server.WriteTimeout, 60*time.Second)
	setDuration(&c.Server.IdleTimeout, 120*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.Database.SSLMode, "disable")
	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setDuration(&c.RabbitMQ.Publish.InspectTimeout, 2*time.Second)
	setInt(&c.RabbitMQ.Consumer.PrefetchCount, 1)
	setString(&c.Redis.KeyPrefix, "faceblur:artifact:")

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setInt(&c.Worker.Concurrency, 2)
	setDuration(&c.Worker.JobTimeout, 10*time.Minute)
	setDuration(&c.Worker.LeaseDuration, 2*time.Minute)
	setDuration(&c.Worker.HeartbeatInterval, c.Worker.LeaseDuration/3)
	setDuration(&c.Worker.ReapInterval, 30*time.Second)
	setDuration(&c.Worker.ReconnectDelay, 5*time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	setString(&c.Storage.Backend, StorageBackendFilesystem)
	setString(&c.Storage.ResultDir, "data/results")
	setString(&c.Storage.StagingDir, "data/staging")
	setDuration(&c.Storage.ArtifactTTL, time.Hour)

	if len(c.Media.AllowedImageExtensions) == 0 {
		c.Media.AllowedImageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "webp"}
	}
	if len(c.Media.AllowedVideoExtensions) == 0 {
		c.Media.AllowedVideoExtensions = []string{"mp4", "webm", "mov", "mkv"}
	}
	c.Media.AllowedImageExtensions = normalizeExtensions(c.Media.AllowedImageExtensions)
	c.Media.AllowedVideoExtensions = normalizeExtensions(c.Media.AllowedVideoExtensions)
	setInt(&c.Media.MaxImages, 10)
	setInt(&c.Media.MaxImageMB, 25)
	setInt(&c.Media.MaxVideoMB, 50)
	setInt(&c.Media.MaxVideoSeconds, 60)
	setInt(&c.Media.JPEGQuality, 92)

	setInt(&c.Video.DetectEveryN, 4)
	setInt(&c.Video.MaxFPS, 20)
	if c.Video.DetectScale == 0 {
		c.Video.DetectScale = 0.5
	}
	if c.Video.PreserveAudio == nil {
		preserve := true
		c.Video.PreserveAudio = &preserve
	}
	setString(&c.Video.FFmpegPath, "ffmpeg")
	setString(&c.Video.FFprobePath, "ffprobe")
	setDuration(&c.Video.ProgressInterval, 5*time.Second)

	setString(&c.Stats.DBPath, "data/stats.db")
	setString(&c.Stats.VisitorCookieName, "visitor_id")
	setDuration(&c.Stats.VisitorCookieMaxAge, 365*24*time.Hour)

	setInt(&c.RateLimit.RequestsPerMinute, 10)
	setInt(&c.RateLimit.Burst, c.RateLimit.RequestsPerMinute)

	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"http://localhost:5173"}
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// MaxImageBytes is the per-image upload limit
func (m MediaConfig) MaxImageBytes() int64 {
	return int64(m.MaxImageMB) * 1024 * 1024
}

// MaxVideoBytes is the per-video upload limit
func (m MediaConfig) MaxVideoBytes() int64 {
	return int64(m.MaxVideoMB) * 1024 * 1024
}

// Validate checks the sections shared by both services
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	switch c.Storage.Backend {
	case StorageBackendFilesystem:
		if c.Storage.ResultDir == "" {
			return fmt.Errorf("storage result_dir is required for the filesystem backend")
		}
	case StorageBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.StagingDir == "" {
		return fmt.Errorf("storage staging_dir is required")
	}

	if c.Storage.ArtifactTTL <= 0 {
		return fmt.Errorf("storage artifact_ttl must be greater than 0")
	}

	if c.Storage.SweepInterval < 0 {
		return fmt.Errorf("storage sweep_interval must not be negative")
	}

	return nil
}

// ValidateAPIConfig checks the settings used by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if c.Media.MaxImages <= 0 {
		return fmt.Errorf("media max_images must be greater than 0")
	}

	if c.Media.MaxImageMB <= 0 || c.Media.MaxVideoMB <= 0 {
		return fmt.Errorf("media size limits must be greater than 0")
	}

	if len(c.Media.AllowedImageExtensions) == 0 {
		return fmt.Errorf("media allowed_image_extensions must not be empty")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit requests_per_minute must be greater than 0")
	}

	if c.Stats.Enabled && c.Stats.DBPath == "" {
		return fmt.Errorf("stats db_path is required when stats are enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.LeaseDuration <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker lease_duration must be longer than heartbeat_interval")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Video.DetectEveryN <= 0 {
		return fmt.Errorf("video detect_every_n must be greater than 0")
	}

	if c.Video.DetectScale <= 0 || c.Video.DetectScale > 1 {
		return fmt.Errorf("video detect_scale must be in (0, 1]")
	}

	if c.Detector.CascadePath == "" {
		return fmt.Errorf("detector cascade_path is required")
	}

	return nil
}
