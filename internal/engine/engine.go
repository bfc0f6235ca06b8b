// Package engine wraps the external transcoding engine. The engine is opaque
// to the rest of the agent: it accepts named input files into a private
// working storage, runs a command line against them and hands back named
// output files, reporting fractional progress while it runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotLoaded is returned by operations that need a loaded engine.
	ErrNotLoaded = errors.New("engine not loaded")

	// ErrAssetUnavailable means the engine executable could not be located or fetched.
	ErrAssetUnavailable = errors.New("engine asset unavailable")

	// ErrInvalidName rejects working-storage names that are not a single path element.
	ErrInvalidName = errors.New("invalid working file name")

	// ErrFileNotFound is returned when a requested working file does not exist.
	ErrFileNotFound = errors.New("working file not found")

	// ErrStalled is returned when the engine stops reporting progress.
	ErrStalled = errors.New("engine stalled")
)

// Engine is a loaded transcoding engine with its own working storage.
type Engine interface {
	// Load resolves the engine assets and prepares working storage.
	Load(ctx context.Context, src AssetSource) error
	// WriteFile stores r under name in working storage.
	WriteFile(ctx context.Context, name string, r io.Reader) error
	// Exec runs the engine with args. Relative names in args refer to working storage.
	Exec(ctx context.Context, args []string) error
	// ReadFile returns the contents of a working file.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// OnProgress registers the callback that receives run progress in [0,1].
	OnProgress(fn func(fraction float64))
	// Close discards working storage.
	Close() error
}

// ExecError describes a failed engine run.
type ExecError struct {
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("engine exited with code %d", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if line := lastLine(e.StderrTail); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
