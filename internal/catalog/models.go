package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Media kinds
const (
	KindVideo = "video"
	KindAudio = "audio"
)

// Media is a file registered in the library.
type Media struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Fingerprint string    `json:"fingerprint"`
	DurationMs  int64     `json:"duration_ms"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export history statuses
const (
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

// ExportRecord is the persisted history of one export.
type ExportRecord struct {
	ID           string    `json:"id"`
	VideoMediaID string    `json:"video_media_id"`
	AudioMediaID string    `json:"audio_media_id,omitempty"`
	Resolution   string    `json:"resolution"`
	Format       string    `json:"format"`
	Quality      int       `json:"quality"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	Error        string    `json:"error,omitempty"`
	ArtifactID   string    `json:"artifact_id,omitempty"`
	ArtifactSize int64     `json:"artifact_size,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the export has finished.
func (e *ExportRecord) Terminal() bool {
	return e.Status == ExportStatusCompleted || e.Status == ExportStatusFailed
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

var AudioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".flac": true,
}

func NewID() string {
	return uuid.NewString()
}

// KindForFile classifies a filename by extension.
func KindForFile(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case VideoExtensions[ext]:
		return KindVideo, true
	case AudioExtensions[ext]:
		return KindAudio, true
	}
	return "", false
}

// IsMediaFile reports whether the filename looks like importable media.
// Hidden files are ignored.
func IsMediaFile(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := KindForFile(base)
	return ok
}
