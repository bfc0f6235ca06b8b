package engine

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// progressTracker turns engine output into monotonic fractions.
// The total comes from the "Duration:" banner on stderr and the position
// from out_time_us on the -progress stream.
type progressTracker struct {
	mu          sync.Mutex
	totalUs     int64
	last        float64
	done        bool
	report      func(float64)
	lastAdvance time.Time
}

func newProgressTracker(report func(float64)) *progressTracker {
	return &progressTracker{report: report, lastAdvance: time.Now()}
}

// setTotal keeps the longest input duration seen.
func (t *progressTracker) setTotal(us int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if us > t.totalUs {
		t.totalUs = us
	}
}

func (t *progressTracker) update(outUs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAdvance = time.Now()
	if t.totalUs <= 0 || outUs < 0 {
		return
	}
	t.emitLocked(float64(outUs) / float64(t.totalUs))
}

func (t *progressTracker) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAdvance = time.Now()
	t.emitLocked(1)
	t.done = true
}

func (t *progressTracker) emitLocked(frac float64) {
	if t.done {
		return
	}
	frac = math.Max(0, math.Min(1, frac))
	if frac <= t.last {
		return
	}
	t.last = frac
	if t.report != nil {
		t.report(frac)
	}
}

func (t *progressTracker) sinceAdvance() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastAdvance)
}

// parseProgress reads key=value lines written by -progress.
func parseProgress(r io.Reader, t *progressTracker) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "out_time_us":
			if v, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				t.update(v)
			}
		case "progress":
			if strings.TrimSpace(val) == "end" {
				t.complete()
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// scanStderr keeps the tail of stderr and picks up input durations.
func scanStderr(r io.Reader, tail io.Writer, t *progressTracker) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = tail.Write([]byte(line + "\n"))
		if us, ok := parseDurationLine(line); ok {
			t.setTotal(us)
		}
	}
	_, _ = io.Copy(tail, r)
}

// parseDurationLine extracts microseconds from "  Duration: 00:01:02.50, start: ...".
func parseDurationLine(line string) (int64, bool) {
	_, rest, ok := strings.Cut(line, "Duration: ")
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}
	return parseTimestamp(strings.TrimSpace(rest))
}

func parseTimestamp(ts string) (int64, bool) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	us := int64(h*3600+m*60)*1_000_000 + int64(math.Round(s*1_000_000))
	return us, us > 0
}
