// Package blob holds finished export artifacts in memory and hands out
// references that stay valid until they are released.
package blob

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framecut/framecut-agent/internal/metrics"
)

// DefaultPrefix is where the API serves artifacts from.
const DefaultPrefix = "/artifacts/"

// Ref is a handle on a stored artifact. URL is the path the agent serves it at.
type Ref struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type object struct {
	ref  Ref
	data []byte
}

// Store is a concurrency-safe in-memory artifact store.
type Store struct {
	prefix string

	mu    sync.RWMutex
	items map[string]*object
	bytes int64
}

// NewStore creates an empty store whose refs point under prefix.
func NewStore(prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{prefix: prefix, items: make(map[string]*object)}
}

// Put takes ownership of data and returns a new reference to it.
func (s *Store) Put(data []byte, mime string) Ref {
	id := uuid.NewString()
	ref := Ref{
		ID:        id,
		URL:       s.prefix + id,
		MIME:      mime,
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.items[id] = &object{ref: ref, data: data}
	s.bytes += ref.Size
	s.updateGaugesLocked()
	s.mu.Unlock()
	return ref
}

// Open returns the artifact for id. Callers must not modify the returned bytes.
func (s *Store) Open(id string) (Ref, []byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.items[id]
	if !ok {
		return Ref{}, nil, false
	}
	return obj.ref, obj.data, true
}

// Release drops the artifact. It reports whether the id was held.
func (s *Store) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.items[id]
	if !ok {
		return false
	}
	delete(s.items, id)
	s.bytes -= obj.ref.Size
	s.updateGaugesLocked()
	return true
}

// Len is the number of held artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Bytes is the total size of held artifacts.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

func (s *Store) updateGaugesLocked() {
	metrics.ArtifactsHeld.Set(float64(len(s.items)))
	metrics.ArtifactBytesHeld.Set(float64(s.bytes))
}
