package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/publish"
)

// downloadArtifactHandler serves an artifact as an attachment. Range and
// conditional requests are handled by http.ServeContent.
func downloadArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, data, ok := cfg.Orchestrator.Store().Open(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		format, _ := export.FormatFromMIME(ref.MIME)
		name := export.AttachmentName(r.URL.Query().Get("name"), format)

		w.Header().Set("Content-Type", ref.MIME)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		http.ServeContent(w, r, name, ref.CreatedAt, bytes.NewReader(data))
	}
}

func releaseArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Orchestrator.Store().Release(chi.URLParam(r, "id")) {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func publishArtifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		ref, data, ok := cfg.Orchestrator.Store().Open(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		format, _ := export.FormatFromMIME(ref.MIME)
		key := ref.ID + "/" + export.AttachmentName(req.Name, format)

		location, err := cfg.Publisher.Publish(r.Context(), key, ref.MIME, bytes.NewReader(data))
		if err != nil {
			if errors.Is(err, publish.ErrDisabled) {
				WriteError(w, http.StatusNotImplemented, "publishing is not configured", "PUBLISH_DISABLED")
				return
			}
			cfg.Logger.Error("artifact publish failed", "artifact_id", ref.ID, "error", err)
			WriteError(w, http.StatusBadGateway, "failed to publish artifact", "PUBLISH_FAILED")
			return
		}

		WriteJSON(w, http.StatusOK, PublishResponse{Location: location})
	}
}

func publishEnabled(p publish.Publisher) bool {
	_, disabled := p.(publish.NopPublisher)
	return p != nil && !disabled
}
