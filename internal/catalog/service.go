// Package catalog keeps the media library and the export history.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/framecut/framecut-agent/internal/engine"
	"github.com/framecut/framecut-agent/internal/logging"
)

const fingerprintSize = 64 * 1024

var (
	ErrNotFound         = errors.New("not found")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Prober extracts stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*engine.MediaInfo, error)
}

type CatalogService interface {
	AddMedia(ctx context.Context, path string) (*Media, error)
	ImportFolder(ctx context.Context, dir string) (int, error)
	RemoveMedia(ctx context.Context, id string) error
	RemoveMediaByPath(ctx context.Context, path string) error
	ListMedia(ctx context.Context) ([]*Media, error)
	GetMedia(ctx context.Context, id string) (*Media, error)

	RecordExport(ctx context.Context, rec *ExportRecord) error
	GetExport(ctx context.Context, id string) (*ExportRecord, error)
	ListExports(ctx context.Context, limit int) ([]*ExportRecord, error)
	TrackExport(ctx context.Context, job JobHandle) error
}

type Service struct {
	repo   Repository
	prober Prober
	logger *slog.Logger
}

// NewService creates the catalog service. prober may be nil, in which case
// media is stored without stream metadata.
func NewService(repo Repository, prober Prober, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, prober: prober, logger: logging.WithComponent(logger, "catalog")}
}

// AddMedia registers a file. Adding a path that is already known refreshes
// its size, fingerprint and metadata and keeps its ID.
func (s *Service) AddMedia(ctx context.Context, path string) (*Media, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file")
	}

	kind, ok := KindForFile(absPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, filepath.Ext(absPath))
	}

	fingerprint, err := computeFingerprint(absPath)
	if err != nil {
		return nil, fmt.Errorf("cannot fingerprint file: %w", err)
	}

	m := &Media{
		ID:          NewID(),
		Kind:        kind,
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Size:        info.Size(),
		Mtime:       info.ModTime(),
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
	}

	existing, err := s.repo.GetMediaByPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	}

	s.probe(ctx, m)

	if err := s.repo.UpsertMedia(ctx, m); err != nil {
		return nil, err
	}

	if existing == nil {
		logging.WithMediaID(s.logger, m.ID).Info("media added",
			"kind", m.Kind,
			"path", logging.SanitizePath(absPath),
		)
	}
	return m, nil
}

func (s *Service) probe(ctx context.Context, m *Media) {
	if s.prober == nil || m.Size == 0 {
		return
	}
	info, err := s.prober.Probe(ctx, m.Path)
	if err != nil {
		s.logger.Warn("media probe failed", "path", logging.SanitizePath(m.Path), "error", err)
		return
	}
	m.DurationMs = info.DurationMs
	m.Width, m.Height = info.Width, info.Height
}

// ImportFolder adds every media file under dir, skipping hidden directories.
// It returns the number of files added or refreshed.
func (s *Service) ImportFolder(ctx context.Context, dir string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("path is not a directory")
	}

	var files []string
	err = filepath.WalkDir(absDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != absDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && IsMediaFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	added := 0
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if _, err := s.AddMedia(ctx, p); err != nil {
			s.logger.Warn("failed to import file", "path", logging.SanitizePath(p), "error", err)
			continue
		}
		added++
	}

	s.logger.Info("folder imported", "path", logging.SanitizePath(absDir), "files", added)
	return added, nil
}

func (s *Service) RemoveMedia(ctx context.Context, id string) error {
	m, err := s.repo.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	return s.repo.DeleteMedia(ctx, id)
}

// RemoveMediaByPath forgets a file that disappeared from disk. Unknown paths are ignored.
func (s *Service) RemoveMediaByPath(ctx context.Context, path string) error {
	m, err := s.repo.GetMediaByPath(ctx, path)
	if err != nil || m == nil {
		return err
	}
	logging.WithMediaID(s.logger, m.ID).Info("media removed", "path", logging.SanitizePath(path))
	return s.repo.DeleteMedia(ctx, m.ID)
}

func (s *Service) ListMedia(ctx context.Context) ([]*Media, error) {
	return s.repo.ListMedia(ctx)
}

func (s *Service) GetMedia(ctx context.Context, id string) (*Media, error) {
	return s.repo.GetMedia(ctx, id)
}

// RecordExport persists a new running export.
func (s *Service) RecordExport(ctx context.Context, rec *ExportRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = ExportStatusRunning
	}
	return s.repo.CreateExport(ctx, rec)
}

func (s *Service) GetExport(ctx context.Context, id string) (*ExportRecord, error) {
	return s.repo.GetExport(ctx, id)
}

func (s *Service) ListExports(ctx context.Context, limit int) ([]*ExportRecord, error) {
	return s.repo.ListExports(ctx, limit)
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
