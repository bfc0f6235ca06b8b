package api

import (
	"time"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/engine"
	"github.com/framecut/framecut-agent/internal/export"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string          `json:"state"`
	Ready       bool            `json:"ready"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	ExportID    string          `json:"export_id,omitempty"`
	MediaCount  int             `json:"media_count"`
	Engine      *EngineResponse `json:"engine,omitempty"`
	Artifacts   int             `json:"artifacts"`
	PublishS3   bool            `json:"publish_enabled"`
	Resolutions []string        `json:"resolutions"`
}

type EngineResponse struct {
	Version     string          `json:"version"`
	LastProbeAt string          `json:"last_probe_at,omitempty"`
	Formats     map[string]bool `json:"formats"`
}

type MediaRequest struct {
	Path string `json:"path"`
}

type ImportRequest struct {
	Path string `json:"path"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

type MediaResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	DurationMs int64  `json:"duration_ms"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type MediaListResponse struct {
	Media []MediaResponse `json:"media"`
}

type ExportRequest struct {
	VideoMediaID string `json:"video_media_id"`
	AudioMediaID string `json:"audio_media_id,omitempty"`
	Resolution   string `json:"resolution"`
	Format       string `json:"format"`
	Quality      *int   `json:"quality,omitempty"`
}

type ExportAcceptedResponse struct {
	ExportID  string `json:"export_id"`
	Status    string `json:"status"`
	EventsURL string `json:"events_url"`
}

type ExportResponse struct {
	ID           string `json:"id"`
	VideoMediaID string `json:"video_media_id"`
	AudioMediaID string `json:"audio_media_id,omitempty"`
	Resolution   string `json:"resolution"`
	Format       string `json:"format"`
	Quality      int    `json:"quality"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Error        string `json:"error,omitempty"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	ArtifactURL  string `json:"artifact_url,omitempty"`
	ArtifactSize int64  `json:"artifact_size,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

// ProgressEvent is the payload of an SSE event on /exports/{id}/events.
type ProgressEvent struct {
	ExportID    string `json:"export_id"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type PublishRequest struct {
	Name string `json:"name,omitempty"`
}

type PublishResponse struct {
	Location string `json:"location"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func MediaToResponse(m *catalog.Media) MediaResponse {
	return MediaResponse{
		ID:         m.ID,
		Kind:       m.Kind,
		Path:       m.Path,
		Filename:   m.Filename,
		Size:       m.Size,
		DurationMs: m.DurationMs,
		Width:      m.Width,
		Height:     m.Height,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}

// ExportToResponse renders a history record. artifactURL is set only while
// the artifact is still held.
func ExportToResponse(e *catalog.ExportRecord, artifactURL string) ExportResponse {
	return ExportResponse{
		ID:           e.ID,
		VideoMediaID: e.VideoMediaID,
		AudioMediaID: e.AudioMediaID,
		Resolution:   e.Resolution,
		Format:       e.Format,
		Quality:      e.Quality,
		Status:       e.Status,
		Progress:     e.Progress,
		Error:        e.Error,
		ArtifactID:   e.ArtifactID,
		ArtifactURL:  artifactURL,
		ArtifactSize: e.ArtifactSize,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
}

// EngineToResponse reports which output formats the engine can encode.
func EngineToResponse(caps *engine.Capabilities) *EngineResponse {
	resp := &EngineResponse{
		Version: caps.Version,
		Formats: make(map[string]bool, len(export.Formats)),
	}
	if !caps.ProbedAt.IsZero() {
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	for _, f := range export.Formats {
		resp.Formats[string(f)] = caps.HasEncoders(f.VideoCodec(), f.AudioCodec())
	}
	return resp
}
