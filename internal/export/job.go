package export

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framecut/framecut-agent/internal/blob"
)

// Job is a handle on one running export.
type Job struct {
	id        string
	opts      Options
	createdAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	progress int
	watchers []chan int
	finished bool
	ref      *blob.Ref
	err      error
}

func newJob(opts Options) *Job {
	return &Job{
		id:        uuid.NewString(),
		opts:      opts,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

func (j *Job) ID() string           { return j.id }
func (j *Job) Options() Options     { return j.opts }
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// Done is closed when the export finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the export finishes and returns its artifact or error.
func (j *Job) Wait() (*blob.Ref, error) {
	<-j.done
	return j.ref, j.err
}

// Progress returns a channel of percentages for this export. Each call gets
// its own channel, primed with the current value. A slow reader only misses
// intermediate values; the channel is closed once the export finishes.
func (j *Job) Progress() <-chan int {
	ch := make(chan int, 1)
	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.progress
	if j.finished {
		close(ch)
		return ch
	}
	j.watchers = append(j.watchers, ch)
	return ch
}

// Current returns the latest percentage.
func (j *Job) Current() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) push(p int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished || p <= j.progress {
		return
	}
	j.progress = p
	for _, ch := range j.watchers {
		sendLatest(ch, p)
	}
}

func (j *Job) finish(ref *blob.Ref, err error) {
	j.mu.Lock()
	j.ref, j.err = ref, err
	j.finished = true
	for _, ch := range j.watchers {
		close(ch)
	}
	j.watchers = nil
	j.mu.Unlock()
	close(j.done)
}

// sendLatest delivers v without blocking, replacing an unread older value.
// Callers must be the channel's only sender.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
