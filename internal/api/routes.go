package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/publish"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Publisher == nil {
		cfg.Publisher = publish.NopPublisher{}
	}
	jobs := newJobRegistry()

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.With(LoopbackGuard()).Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/engine/init", initEngineHandler(cfg))

		r.Get("/media", listMediaHandler(cfg))
		r.Post("/media", addMediaHandler(cfg))
		r.Post("/media/import", importFolderHandler(cfg))
		r.Delete("/media/{id}", deleteMediaHandler(cfg))
		r.With(LoopbackGuard()).Get("/media/{id}/file", mediaFileHandler(cfg))

		r.With(ExportRateLimit(cfg.ExportRateLimit)).Post("/exports", createExportHandler(cfg, jobs))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Get("/exports/{id}/events", exportEventsHandler(cfg, jobs))

		r.Get("/artifacts/{id}", downloadArtifactHandler(cfg))
		r.Head("/artifacts/{id}", downloadArtifactHandler(cfg))
		r.Delete("/artifacts/{id}", releaseArtifactHandler(cfg))
		r.Post("/artifacts/{id}/publish", publishArtifactHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Orchestrator.Status()
		resp := StatusResponse{
			State:       string(st.State),
			Ready:       st.Ready,
			Progress:    st.Progress,
			Error:       st.Error,
			ExportID:    st.ExportID,
			Artifacts:   cfg.Orchestrator.Store().Len(),
			PublishS3:   publishEnabled(cfg.Publisher),
			Resolutions: export.Resolutions,
		}

		if media, err := cfg.Catalog.ListMedia(r.Context()); err == nil {
			resp.MediaCount = len(media)
		}

		// Probing needs a loaded engine; before that only a cached result is shown.
		if cfg.Doctor != nil {
			caps := cfg.Doctor.Peek()
			if st.Ready {
				if fresh, err := cfg.Doctor.Get(r.Context()); err == nil {
					caps = fresh
				}
			}
			if caps != nil {
				resp.Engine = EngineToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func initEngineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Orchestrator.Initialize(r.Context()); err != nil {
			WriteError(w, http.StatusServiceUnavailable, cfg.Orchestrator.Status().Error, "ENGINE_INIT_FAILED")
			return
		}
		if cfg.Doctor != nil {
			cfg.Doctor.Invalidate()
		}
		st := cfg.Orchestrator.Status()
		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       string(st.State),
			Ready:       st.Ready,
			Progress:    st.Progress,
			Resolutions: export.Resolutions,
			Artifacts:   cfg.Orchestrator.Store().Len(),
			PublishS3:   publishEnabled(cfg.Publisher),
		})
	}
}

func listMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		media, err := cfg.Catalog.ListMedia(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list media", "INTERNAL_ERROR")
			return
		}

		resp := MediaListResponse{Media: make([]MediaResponse, len(media))}
		for i, m := range media {
			resp.Media[i] = MediaToResponse(m)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		m, err := cfg.Catalog.AddMedia(r.Context(), req.Path)
		if err != nil {
			if errors.Is(err, catalog.ErrUnsupportedMedia) {
				WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_MEDIA")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, MediaToResponse(m))
	}
}

func importFolderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		n, err := cfg.Catalog.ImportFolder(r.Context(), req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, ImportResponse{Imported: n})
	}
}

func deleteMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := cfg.Catalog.RemoveMedia(r.Context(), id); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "media not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// mediaFileHandler streams a library file for in-editor preview.
func mediaFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, err := cfg.Catalog.GetMedia(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if m == nil {
			WriteError(w, http.StatusNotFound, "media not found", "NOT_FOUND")
			return
		}

		f, err := os.Open(m.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "media file is missing from disk", "MEDIA_MISSING")
				return
			}
			cfg.Logger.Error("preview open failed", "media_id", id, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to open media", "INTERNAL_ERROR")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to stat media", "INTERNAL_ERROR")
			return
		}
		http.ServeContent(w, r, m.Filename, info.ModTime(), f)
	}
}
