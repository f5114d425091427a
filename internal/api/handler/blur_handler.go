package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/cuongbtq/face-blur/internal/api/dto"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/cuongbtq/face-blur/internal/pipeline"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/gin-gonic/gin"
)

// SubmitImages handles POST /api/v1/blur
func (h *Handler) SubmitImages(c *gin.Context) {
	form, err := readForm(c, int64(max(h.limits.MaxImages, 1))*h.limits.MaxImageBytes)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	defer form.RemoveAll()

	files := form.File["files"]
	if len(files) == 0 {
		RespondError(c, http.StatusBadRequest, CodeValidation, "at least one file is required in field \"files\"", nil)
		return
	}
	if h.limits.MaxImages > 0 && len(files) > h.limits.MaxImages {
		RespondError(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
			fmt.Sprintf("at most %d images per request", h.limits.MaxImages),
			map[string]any{"max_files": h.limits.MaxImages})
		return
	}

	uploads := make([]staging.Upload, 0, len(files))
	for _, fh := range files {
		u, err := readUpload(fh, media.KindImage, h.limits.AllowedImageExtensions, h.limits.MaxImageBytes)
		if err != nil {
			h.respondErr(c, err)
			return
		}
		uploads = append(uploads, u)
	}

	h.submit(c, domain.TaskKindImageBatch, uploads)
}

// SubmitVideo handles POST /api/v1/blur/video
func (h *Handler) SubmitVideo(c *gin.Context) {
	form, err := readForm(c, h.limits.MaxVideoBytes)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	defer form.RemoveAll()

	files := form.File["file"]
	if len(files) != 1 {
		RespondError(c, http.StatusBadRequest, CodeValidation, "exactly one file is required in field \"file\"", nil)
		return
	}

	u, err := readUpload(files[0], media.KindVideo, h.limits.AllowedVideoExtensions, h.limits.MaxVideoBytes)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	h.submit(c, domain.TaskKindVideo, []staging.Upload{u})
}

func (h *Handler) submit(c *gin.Context, kind domain.TaskKind, uploads []staging.Upload) {
	task, err := h.pipeline.Submit(c.Request.Context(), pipeline.SubmitRequest{Kind: kind, Uploads: uploads})
	if err != nil {
		h.respondErr(c, err)
		return
	}

	h.logger.Info("Task queued",
		slog.String("task_id", task.ID),
		slog.String("kind", string(kind)),
		slog.Int("files", len(uploads)),
	)
	c.JSON(http.StatusAccepted, dto.Response{
		Status:  "queued",
		Message: "task accepted",
		Data:    dto.QueuedData{TaskID: task.ID},
	})
}

// GetResult handles GET /api/v1/results/:task_id. A succeeded result can be
// fetched once.
func (h *Handler) GetResult(c *gin.Context) {
	id := c.Param("task_id")

	a, err := h.pipeline.Fetch(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPending) {
			c.JSON(http.StatusAccepted, dto.Response{
				Status:  "pending",
				Message: "task is still processing",
				Data:    dto.QueuedData{TaskID: id},
			})
			return
		}
		h.respondErr(c, err)
		return
	}

	disposition := "inline"
	if a.ContentType == media.ContentTypeZIP || a.ContentType == media.ContentTypeMP4 {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.Filename}))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, a.ContentType, a.Data)
}

// GetTask handles GET /api/v1/tasks/:task_id without consuming the result
func (h *Handler) GetTask(c *gin.Context) {
	report, err := h.pipeline.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.respondErr(c, err)
		return
	}

	out := dto.TaskStatusDTO{
		TaskID:      report.TaskID,
		Kind:        string(report.Kind),
		Status:      report.Status,
		State:       string(report.State),
		SubmittedAt: dto.FormatTime(report.SubmittedAt),
	}
	if report.Error != nil {
		out.Error = &dto.TaskErrorDTO{Code: report.Error.Code, Message: report.Error.Message}
	}
	if report.CompletedAt != nil {
		out.CompletedAt = dto.FormatTime(*report.CompletedAt)
	}

	c.JSON(http.StatusOK, dto.Response{Status: "ok", Message: "task status", Data: out})
}
