// Package export drives the transcoding engine to turn a staged video (and
// optional audio track) into a downloadable artifact. The Orchestrator owns
// the single engine instance, serializes exports and publishes state and
// progress to observers.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/framecut/framecut-agent/internal/blob"
	"github.com/framecut/framecut-agent/internal/engine"
	"github.com/framecut/framecut-agent/internal/logging"
	"github.com/framecut/framecut-agent/internal/metrics"
)

// Inputs names the source files for one export.
type Inputs struct {
	Video string // required
	Audio string // optional
}

// Config wires an Orchestrator.
type Config struct {
	NewEngine func() engine.Engine
	Assets    engine.AssetSource
	Store     *blob.Store
	Logger    *slog.Logger
}

// Orchestrator is safe for concurrent use. At most one export runs at a time.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	initMu sync.Mutex // serializes Initialize

	mu       sync.Mutex
	engine   engine.Engine
	state    State
	progress int
	lastErr  string
	active   *Job
	stopRun  context.CancelFunc
	subs     map[int]chan Status
	nextSub  int
}

// New creates an uninitialized Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = blob.NewStore("")
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "export"),
		state:  StateNotInitialized,
		subs:   make(map[int]chan Status),
	}
}

// Store returns the artifact store exports are written to.
func (o *Orchestrator) Store() *blob.Store {
	return o.cfg.Store
}

// Initialize loads the engine once. Calls after a successful load return nil
// without touching state; after a failure the next call retries.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	o.mu.Lock()
	if o.engine != nil {
		o.mu.Unlock()
		return nil
	}
	o.state = StateInitializing
	o.lastErr = ""
	o.publishLocked()
	o.mu.Unlock()

	start := time.Now()
	eng := o.cfg.NewEngine()
	eng.OnProgress(o.handleProgress)

	if err := eng.Load(ctx, o.cfg.Assets); err != nil {
		_ = eng.Close()
		metrics.EngineInitTotal.WithLabelValues(metrics.Result(err)).Inc()
		o.logger.Error("engine initialization failed", "error", err)

		o.mu.Lock()
		o.state = StateError
		o.lastErr = initFailureMessage
		o.publishLocked()
		o.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	metrics.EngineInitTotal.WithLabelValues(metrics.Result(nil)).Inc()
	o.logger.Info("engine initialized", "duration_ms", time.Since(start).Milliseconds())

	o.mu.Lock()
	o.engine = eng
	o.state = StateReady
	o.lastErr = ""
	o.publishLocked()
	o.mu.Unlock()
	return nil
}

// Export runs one export to completion. The caller owns the returned
// reference and must release it from the store.
func (o *Orchestrator) Export(ctx context.Context, opts Options, in Inputs) (*blob.Ref, error) {
	job, err := o.Start(ctx, opts, in)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

// Start begins an export in the background. Precondition failures are
// returned directly and leave state untouched.
func (o *Orchestrator) Start(ctx context.Context, opts Options, in Inputs) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.engine == nil {
		return nil, ErrNotInitialized
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if in.Video == "" {
		return nil, fmt.Errorf("%w: video input is required", ErrInvalidOptions)
	}
	if o.state == StateProcessing {
		return nil, ErrBusy
	}

	job := newJob(opts)
	runCtx, cancel := context.WithCancel(ctx)
	o.active = job
	o.stopRun = cancel
	o.state = StateProcessing
	o.progress = 0
	o.lastErr = ""
	o.publishLocked()

	metrics.ExportsInFlight.Inc()
	go o.run(runCtx, o.engine, job, in)
	return job, nil
}

func (o *Orchestrator) run(ctx context.Context, eng engine.Engine, job *Job, in Inputs) {
	logger := logging.WithExportID(o.logger, job.ID())
	opts := job.Options()
	start := time.Now()

	logger.Info("export started",
		"resolution", opts.Resolution,
		"format", opts.Format,
		"quality", opts.Quality,
		"with_audio", in.Audio != "",
	)

	ref, err := o.transcode(ctx, eng, opts, in)
	elapsed := time.Since(start)
	o.mu.Lock()
	o.stopRun()
	o.stopRun = nil
	o.mu.Unlock()

	metrics.ExportsInFlight.Dec()
	metrics.ExportsTotal.WithLabelValues(string(opts.Format), metrics.Result(err)).Inc()
	metrics.ExportDuration.WithLabelValues(string(opts.Format)).Observe(elapsed.Seconds())

	o.mu.Lock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExportFailed, err)
		o.state = StateError
		o.progress = 0
		o.lastErr = exportFailureMessage
		logger.Error("export failed", "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		o.state = StateReady
		o.progress = 100
		o.lastErr = ""
		job.push(100)
		logger.Info("export completed",
			"artifact_id", ref.ID,
			"size", humanize.Bytes(uint64(ref.Size)),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	o.active = nil
	o.publishLocked()
	o.mu.Unlock()

	job.finish(ref, err)
}

func (o *Orchestrator) transcode(ctx context.Context, eng engine.Engine, opts Options, in Inputs) (*blob.Ref, error) {
	if err := stageInputs(ctx, eng, in); err != nil {
		return nil, err
	}

	if err := eng.Exec(ctx, BuildArgs(opts, in.Audio != "")); err != nil {
		return nil, err
	}

	data, err := eng.ReadFile(ctx, opts.Format.OutputName())
	if err != nil {
		return nil, fmt.Errorf("cannot read engine output: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("engine produced an empty output")
	}

	ref := o.cfg.Store.Put(data, opts.Format.MIME())
	return &ref, nil
}

// stageInputs copies the source files into working storage concurrently.
func stageInputs(ctx context.Context, eng engine.Engine, in Inputs) error {
	g, gctx := errgroup.WithContext(ctx)
	stage := func(path, name string) func() error {
		return func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("cannot open %s input: %w", name, err)
			}
			defer f.Close()
			if err := eng.WriteFile(gctx, name, f); err != nil {
				return fmt.Errorf("cannot stage %s: %w", name, err)
			}
			return nil
		}
	}

	g.Go(stage(in.Video, InputVideoName))
	if in.Audio != "" {
		g.Go(stage(in.Audio, InputAudioName))
	}
	return g.Wait()
}

// handleProgress receives engine fractions and publishes whole percentages.
func (o *Orchestrator) handleProgress(fraction float64) {
	p := int(math.Round(fraction * 100))
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateProcessing || o.active == nil || p <= o.progress {
		return
	}
	o.progress = p
	o.active.push(p)
	o.publishLocked()
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	s := Status{
		State:    o.state,
		Ready:    o.engine != nil,
		Progress: o.progress,
		Error:    o.lastErr,
	}
	if o.active != nil {
		s.ExportID = o.active.ID()
	}
	return s
}

// Subscribe returns a channel of status snapshots, primed with the current
// one. Slow readers see only the latest snapshot. Call cancel to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.statusLocked()
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (o *Orchestrator) publishLocked() {
	s := o.statusLocked()
	for _, ch := range o.subs {
		sendLatest(ch, s)
	}
}

// Capabilities reports what the loaded engine can encode.
func (o *Orchestrator) Capabilities(ctx context.Context) (*engine.Capabilities, error) {
	o.mu.Lock()
	eng := o.engine
	o.mu.Unlock()

	if eng == nil {
		return nil, ErrNotInitialized
	}
	p, ok := eng.(engine.Prober)
	if !ok {
		return nil, errors.New("engine does not report capabilities")
	}
	return p.Capabilities(ctx)
}

// Shutdown cancels the running export, if any, waits for it to unwind until
// ctx ends and then closes the engine.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	job, stop := o.active, o.stopRun
	o.mu.Unlock()

	if job != nil {
		o.logger.Warn("cancelling running export", "export_id", job.ID())
		if stop != nil {
			stop()
		}
		select {
		case <-job.Done():
		case <-ctx.Done():
			return fmt.Errorf("export %s did not stop: %w", job.ID(), ctx.Err())
		}
	}
	return o.Close()
}

// Close tears down the engine. Subscribers are closed and later exports
// fail with ErrNotInitialized until Initialize is called again.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.state == StateProcessing {
		o.mu.Unlock()
		return ErrBusy
	}
	eng := o.engine
	o.engine = nil
	o.state = StateNotInitialized
	o.progress = 0
	o.lastErr = ""
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.mu.Unlock()

	if eng == nil {
		return nil
	}
	o.logger.Info("engine closed")
	return eng.Close()
}
