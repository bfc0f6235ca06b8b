package engine

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL = 5 * time.Minute
	doctorTimeout   = 15 * time.Second
)

// Capabilities describes what the loaded engine can encode.
type Capabilities struct {
	Version  string          `json:"version"`
	Encoders map[string]bool `json:"encoders"`
	ProbedAt time.Time       `json:"probed_at"`
}

// HasEncoders reports whether every named encoder is available.
func (c *Capabilities) HasEncoders(names ...string) bool {
	if c == nil {
		return false
	}
	for _, n := range names {
		if !c.Encoders[n] {
			return false
		}
	}
	return true
}

// Prober is implemented by engines that can report their capabilities.
type Prober interface {
	Capabilities(ctx context.Context) (*Capabilities, error)
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder rows look like
// " V....D libx264   libx264 H.264 ..." and follow a "------" separator.
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	inTable := !strings.Contains(out, "------")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// CachedDoctor wraps a Prober to cache capability results with a TTL.
// This avoids spawning the engine on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around capability probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Capabilities(ctx)
	if err != nil {
		d.logger.Warn("capability probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
