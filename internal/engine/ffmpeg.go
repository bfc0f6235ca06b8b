package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/framecut/framecut-agent/internal/logging"
)

// baseArgs precede every caller-supplied argument list.
var baseArgs = []string{"-hide_banner", "-nostdin", "-nostats", "-y", "-progress", "pipe:1"}

// FFmpegConfig holds the FFmpeg engine's configuration.
type FFmpegConfig struct {
	WorkRoot     string        // parent of working storage; empty = os.TempDir()
	ExecTimeout  time.Duration // limit for a single Exec; zero = none
	StallTimeout time.Duration // kill the run if progress stops advancing; zero = never
	Logger       *slog.Logger
}

// FFmpeg runs an ffmpeg executable as a subprocess. Working storage is a
// private temp directory used as the process's working directory.
type FFmpeg struct {
	cfg    FFmpegConfig
	logger *slog.Logger

	mu       sync.RWMutex
	bin      string
	version  string
	workDir  string
	progress func(float64)
}

// NewFFmpeg creates an unloaded FFmpeg engine.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{cfg: cfg, logger: logging.WithComponent(logger, "engine")}
}

// Load resolves the executable, checks that it runs and creates working storage.
func (f *FFmpeg) Load(ctx context.Context, src AssetSource) error {
	bin, err := src.Resolve(ctx)
	if err != nil {
		return err
	}

	version, err := probeVersion(ctx, bin)
	if err != nil {
		return fmt.Errorf("engine binary %s is not usable: %w", logging.SanitizePath(bin), err)
	}

	if f.cfg.WorkRoot != "" {
		if err := os.MkdirAll(f.cfg.WorkRoot, 0755); err != nil {
			return fmt.Errorf("cannot create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(f.cfg.WorkRoot, "engine-")
	if err != nil {
		return fmt.Errorf("cannot create working storage: %w", err)
	}

	f.mu.Lock()
	old := f.workDir
	f.bin, f.version, f.workDir = bin, version, dir
	f.mu.Unlock()

	if old != "" {
		_ = os.RemoveAll(old)
	}

	f.logger.Info("engine loaded",
		"binary", logging.SanitizePath(bin),
		"version", version,
	)
	return nil
}

// loadedVersion returns the first line of `ffmpeg -version`, or "" before Load.
func (f *FFmpeg) loadedVersion() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

func (f *FFmpeg) OnProgress(fn func(fraction float64)) {
	f.mu.Lock()
	f.progress = fn
	f.mu.Unlock()
}

func (f *FFmpeg) WriteFile(ctx context.Context, name string, r io.Reader) error {
	dir, err := f.dir()
	if err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", name, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return fmt.Errorf("cannot write %s: %w", name, err)
	}
	return file.Close()
}

func (f *FFmpeg) ReadFile(ctx context.Context, name string) ([]byte, error) {
	dir, err := f.dir()
	if err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return data, err
}

// Exec runs ffmpeg with args inside working storage and blocks until it exits.
func (f *FFmpeg) Exec(ctx context.Context, args []string) error {
	f.mu.RLock()
	bin, dir, report := f.bin, f.workDir, f.progress
	f.mu.RUnlock()
	if bin == "" {
		return ErrNotLoaded
	}

	if f.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ExecTimeout)
		defer cancel()
	}
	ctx, cancelCause := context.WithCancelCause(ctx)
	defer cancelCause(nil)

	fullArgs := append(append([]string{}, baseArgs...), args...)
	cmd := exec.CommandContext(ctx, bin, fullArgs...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	tracker := newProgressTracker(report)
	tail := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	f.logger.Debug("engine run started", "args", strings.Join(args, " "))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanStderr(stderr, tail, tracker)
	}()
	go func() {
		defer wg.Done()
		parseProgress(stdout, tracker)
	}()

	stop := make(chan struct{})
	if f.cfg.StallTimeout > 0 {
		go f.watchStall(stop, tracker, cancelCause)
	}

	wg.Wait()
	err = cmd.Wait()
	close(stop)
	elapsed := time.Since(start)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		cause := context.Cause(ctx)
		f.logger.Warn("engine run failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"cause", cause,
			"stderr_tail", truncate(tail.String(), 512),
		)
		return &ExecError{ExitCode: exitCode, StderrTail: tail.String(), Err: cause}
	}

	tracker.complete()
	f.logger.Info("engine run succeeded", "duration_ms", elapsed.Milliseconds())
	return nil
}

func (f *FFmpeg) watchStall(stop <-chan struct{}, tracker *progressTracker, cancel context.CancelCauseFunc) {
	tick := f.cfg.StallTimeout / 4
	if tick <= 0 {
		tick = f.cfg.StallTimeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if since := tracker.sinceAdvance(); since > f.cfg.StallTimeout {
				f.logger.Error("engine stalled - killing process", "since_progress", since)
				cancel(ErrStalled)
				return
			}
		}
	}
}

// Capabilities lists the encoders compiled into the loaded binary.
func (f *FFmpeg) Capabilities(ctx context.Context) (*Capabilities, error) {
	f.mu.RLock()
	bin, version := f.bin, f.version
	f.mu.RUnlock()
	if bin == "" {
		return nil, ErrNotLoaded
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("cannot list encoders: %w", err)
	}

	return &Capabilities{
		Version:  version,
		Encoders: parseEncoders(string(out)),
		ProbedAt: time.Now(),
	}, nil
}

// Close removes working storage. The engine must be loaded again before reuse.
func (f *FFmpeg) Close() error {
	f.mu.Lock()
	dir := f.workDir
	f.bin, f.workDir = "", ""
	f.mu.Unlock()

	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func (f *FFmpeg) dir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.workDir == "" {
		return "", ErrNotLoaded
	}
	return f.workDir, nil
}

func probeVersion(ctx context.Context, bin string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line == "" {
		return "", errors.New("empty version output")
	}
	return strings.TrimSpace(line), nil
}
