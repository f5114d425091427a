package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/gin-gonic/gin"
)

// multipartOverhead is added to the body limit for boundaries and headers
const multipartOverhead = 1 << 20

// readForm bounds the request body and parses the multipart form
func readForm(c *gin.Context, limit int64) (*multipart.Form, error) {
	if c.Request.ContentLength > limit+multipartOverhead {
		return nil, newAPIError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, newAPIError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
		}
		return nil, newAPIError(http.StatusBadRequest, CodeValidation, "invalid multipart form")
	}
	return form, nil
}

// readUpload checks one file against the allow-list, the size bound and its
// magic bytes, in that order
func readUpload(fh *multipart.FileHeader, kind media.Kind, allowed []string, limit int64) (staging.Upload, error) {
	declared := media.Extension(fh.Filename)
	if declared == "" {
		return staging.Upload{}, newAPIError(http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("file %q has no extension", fh.Filename))
	}
	if !extensionAllowed(allowed, declared) {
		return staging.Upload{}, newAPIError(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType,
			fmt.Sprintf("extension %q is not allowed", declared)).with("allowed", allowed)
	}
	if limit > 0 && fh.Size > limit {
		return staging.Upload{}, tooLarge(fh.Filename, limit)
	}

	f, err := fh.Open()
	if err != nil {
		return staging.Upload{}, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return staging.Upload{}, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return staging.Upload{}, tooLarge(fh.Filename, limit)
	}
	if len(data) == 0 {
		return staging.Upload{}, newAPIError(http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("file %q is empty", fh.Filename))
	}

	detectedKind, detected, ok := media.Sniff(data)
	if !ok || detectedKind != kind {
		return staging.Upload{}, newAPIError(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType,
			fmt.Sprintf("file %q is not a supported %s", fh.Filename, kind))
	}
	if !extensionAllowed(allowed, detected) {
		return staging.Upload{}, newAPIError(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType,
			fmt.Sprintf("detected type %q is not allowed", detected)).with("detected", detected)
	}
	if !media.ExtensionMatches(declared, detected) {
		return staging.Upload{}, newAPIError(http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("file %q does not match its extension", fh.Filename)).
			with("declared", declared).
			with("detected", detected)
	}

	return staging.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func extensionAllowed(allowed []string, ext string) bool {
	for _, a := range allowed {
		if media.ExtensionMatches(a, ext) {
			return true
		}
	}
	return false
}

func tooLarge(name string, limit int64) *apiError {
	return newAPIError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
		fmt.Sprintf("file %q exceeds %d MB", name, limit>>20)).with("max_bytes", limit)
}
