package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/observach/apiserver/internal/storage"
)

// PhotoReader opens stored photos by key.
type PhotoReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// UploadsHandler streams stored photos back to clients. Photo keys are
// unguessable, so no authentication is required.
type UploadsHandler struct {
	photos PhotoReader
	logger *slog.Logger
}

func NewUploadsHandler(photos PhotoReader, logger *slog.Logger) *UploadsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadsHandler{photos: photos, logger: logger}
}

// UploadsRouter registers the photo route under its mount point.
func UploadsRouter(r chi.Router, handler *UploadsHandler) {
	r.Get("/*", handler.ServePhoto)
}

func (h *UploadsHandler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if key == "" || key == "." {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	body, err := h.photos.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "photo not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to read photo", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read photo")
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "photo stream interrupted", "key", key, "error", err)
	}
}
