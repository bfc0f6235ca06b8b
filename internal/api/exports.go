package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/logging"
)

const exportHistoryLimit = 50

// jobRegistry tracks exports whose result is not yet in the history table so
// their events can be streamed. A job leaves the registry only after its
// final status has been persisted.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*export.Job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*export.Job)}
}

func (r *jobRegistry) add(job *export.Job) {
	r.mu.Lock()
	r.jobs[job.ID()] = job
	r.mu.Unlock()
}

func (r *jobRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

func (r *jobRegistry) get(id string) *export.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func createExportHandler(cfg ServerConfig, jobs *jobRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		opts := export.DefaultOptions()
		if req.Resolution != "" {
			opts.Resolution = req.Resolution
		}
		if req.Format != "" {
			f, err := export.ParseFormat(req.Format)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_OPTIONS")
				return
			}
			opts.Format = f
		}
		if req.Quality != nil {
			opts.Quality = *req.Quality
		}
		if err := opts.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_OPTIONS")
			return
		}

		if req.VideoMediaID == "" {
			WriteError(w, http.StatusBadRequest, "video_media_id is required", "BAD_REQUEST")
			return
		}
		video, ok := lookupMedia(w, r, cfg, req.VideoMediaID, catalog.KindVideo)
		if !ok {
			return
		}
		inputs := export.Inputs{Video: video.Path}
		if req.AudioMediaID != "" {
			audio, ok := lookupMedia(w, r, cfg, req.AudioMediaID, catalog.KindAudio)
			if !ok {
				return
			}
			inputs.Audio = audio.Path
		}

		// The export outlives this request.
		bg := context.WithoutCancel(r.Context())

		job, err := cfg.Orchestrator.Start(bg, opts, inputs)
		if err != nil {
			switch {
			case errors.Is(err, export.ErrNotInitialized):
				WriteError(w, http.StatusPreconditionFailed, "engine not initialized", "NOT_INITIALIZED")
			case errors.Is(err, export.ErrBusy):
				WriteError(w, http.StatusConflict, "an export is already in progress", "EXPORT_IN_PROGRESS")
			case errors.Is(err, export.ErrInvalidOptions):
				WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_OPTIONS")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		logger := logging.WithExportID(cfg.Logger, job.ID())
		rec := &catalog.ExportRecord{
			ID:           job.ID(),
			VideoMediaID: video.ID,
			AudioMediaID: req.AudioMediaID,
			Resolution:   opts.Resolution,
			Format:       string(opts.Format),
			Quality:      opts.Quality,
			CreatedAt:    job.CreatedAt(),
		}
		recorded := true
		if err := cfg.Catalog.RecordExport(r.Context(), rec); err != nil {
			logger.Warn("failed to record export", "error", err)
			recorded = false
		}
		jobs.add(job)
		go func() {
			defer jobs.remove(job.ID())
			if !recorded {
				<-job.Done()
				return
			}
			if err := cfg.Catalog.TrackExport(bg, job); err != nil {
				logger.Warn("failed to persist export result", "error", err)
			}
		}()

		WriteJSON(w, http.StatusAccepted, ExportAcceptedResponse{
			ExportID:  job.ID(),
			Status:    catalog.ExportStatusRunning,
			EventsURL: fmt.Sprintf("/exports/%s/events", job.ID()),
		})
	}
}

func lookupMedia(w http.ResponseWriter, r *http.Request, cfg ServerConfig, id, kind string) (*catalog.Media, bool) {
	m, err := cfg.Catalog.GetMedia(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if m == nil {
		WriteError(w, http.StatusNotFound, kind+" media not found", "NOT_FOUND")
		return nil, false
	}
	if m.Kind != kind {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("media %s is not %s", id, kind), "BAD_REQUEST")
		return nil, false
	}
	return m, true
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := cfg.Catalog.ListExports(r.Context(), exportHistoryLimit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}

		resp := ExportsResponse{Exports: make([]ExportResponse, len(records))}
		for i, rec := range records {
			resp.Exports[i] = ExportToResponse(rec, artifactURL(cfg, rec.ArtifactID))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := cfg.Catalog.GetExport(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(rec, artifactURL(cfg, rec.ArtifactID)))
	}
}

// artifactURL returns the download path while the artifact is still held.
func artifactURL(cfg ServerConfig, id string) string {
	if id == "" {
		return ""
	}
	ref, _, ok := cfg.Orchestrator.Store().Open(id)
	if !ok {
		return ""
	}
	return ref.URL
}

// exportEventsHandler streams "progress" events followed by one terminal
// "completed" or "failed" event.
func exportEventsHandler(cfg ServerConfig, jobs *jobRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job := jobs.get(id)

		var rec *catalog.ExportRecord
		if job == nil {
			var err error
			rec, err = cfg.Catalog.GetExport(r.Context(), id)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if rec == nil {
				WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
				return
			}
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		rc := http.NewResponseController(w)

		send := func(event string, payload ProgressEvent) bool {
			data, _ := json.Marshal(payload)
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return false
			}
			_ = rc.Flush()
			return true
		}

		if job == nil {
			switch rec.Status {
			case catalog.ExportStatusCompleted:
				send("completed", ProgressEvent{ExportID: id, Progress: 100,
					ArtifactURL: artifactURL(cfg, rec.ArtifactID), Size: rec.ArtifactSize})
			case catalog.ExportStatusFailed:
				send("failed", ProgressEvent{ExportID: id, Progress: rec.Progress, Error: rec.Error})
			default:
				send("progress", ProgressEvent{ExportID: id, Progress: rec.Progress})
			}
			return
		}

		progress := job.Progress()
		for open := true; open; {
			select {
			case <-r.Context().Done():
				return
			case p, ok := <-progress:
				if !ok {
					open = false
					break
				}
				if !send("progress", ProgressEvent{ExportID: id, Progress: p}) {
					return
				}
			}
		}

		ref, err := job.Wait()
		if err != nil {
			send("failed", ProgressEvent{ExportID: id, Progress: job.Current(), Error: err.Error()})
			return
		}
		send("completed", ProgressEvent{ExportID: id, Progress: 100, ArtifactURL: ref.URL, Size: ref.Size})
	}
}
