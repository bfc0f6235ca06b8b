// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/framecut/framecut-agent/internal/engine"
)

// Engine is an in-memory engine.Engine. Exec reports Steps through the
// progress callback and writes Output (or a copy of input.mp4) to the file
// named by the last argument.
type Engine struct {
	LoadErr  error
	WriteErr error
	ExecErr  error
	ReadErr  error

	Steps  []float64
	Output []byte

	// Block, when non-nil, holds Exec until it is closed or ctx ends.
	Block chan struct{}
	// Started, when non-nil, receives once Exec begins.
	Started chan struct{}

	mu       sync.Mutex
	files    map[string][]byte
	execs    [][]string
	loads    int
	closed   bool
	progress func(float64)
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Load(ctx context.Context, src engine.AssetSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.files = make(map[string][]byte)
	e.closed = false
	return nil
}

func (e *Engine) WriteFile(ctx context.Context, name string, r io.Reader) error {
	if e.WriteErr != nil {
		return e.WriteErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.files == nil {
		return engine.ErrNotLoaded
	}
	e.files[name] = data
	return nil
}

func (e *Engine) Exec(ctx context.Context, args []string) error {
	e.mu.Lock()
	if e.files == nil {
		e.mu.Unlock()
		return engine.ErrNotLoaded
	}
	e.execs = append(e.execs, append([]string(nil), args...))
	report := e.progress
	e.mu.Unlock()

	if e.Started != nil {
		e.Started <- struct{}{}
	}
	for _, s := range e.Steps {
		if report != nil {
			report(s)
		}
	}
	if e.Block != nil {
		select {
		case <-e.Block:
		case <-ctx.Done():
			return &engine.ExecError{ExitCode: -1, Err: ctx.Err()}
		}
	}
	if e.ExecErr != nil {
		return e.ExecErr
	}
	if len(args) == 0 {
		return errors.New("no arguments")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.Output
	if out == nil {
		out = bytes.Clone(e.files["input.mp4"])
	}
	e.files[args[len(args)-1]] = out
	return nil
}

func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if e.ReadErr != nil {
		return nil, e.ReadErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, engine.ErrFileNotFound
	}
	return data, nil
}

func (e *Engine) OnProgress(fn func(float64)) {
	e.mu.Lock()
	e.progress = fn
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.files = nil
	return nil
}

// Execs returns the argument lists passed to Exec so far.
func (e *Engine) Execs() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.execs...)
}

// File returns a working file, if present.
func (e *Engine) File(name string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	return data, ok
}

func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
