package catalog

import (
	"context"

	"github.com/framecut/framecut-agent/internal/blob"
	"github.com/framecut/framecut-agent/internal/logging"
)

// JobHandle is the view of a running export the tracker needs.
type JobHandle interface {
	ID() string
	Progress() <-chan int
	Wait() (*blob.Ref, error)
}

// TrackExport mirrors a running export into its history record until it
// finishes. It blocks; run it in its own goroutine.
func (s *Service) TrackExport(ctx context.Context, job JobHandle) error {
	logger := logging.WithExportID(s.logger, job.ID())

	last := -1
	for p := range job.Progress() {
		if p == last {
			continue
		}
		last = p
		if err := s.repo.UpdateExportProgress(ctx, job.ID(), p); err != nil {
			logger.Warn("failed to persist export progress", "error", err)
		}
	}

	ref, err := job.Wait()
	if err != nil {
		return s.repo.FailExport(ctx, job.ID(), err.Error())
	}
	return s.repo.CompleteExport(ctx, job.ID(), ref.ID, ref.Size)
}
