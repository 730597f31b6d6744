// Package pipeline runs the detection loop: one frame at a time through preprocessing,
// inference, decoding, suppression and mapping, then out to the rendering sinks.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.markscan.dev/markscan/camera"
	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml"
	"go.markscan.dev/markscan/ml/inference"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/utils"
	"go.markscan.dev/markscan/vision/objectdetection"
)

const (
	// DefaultRefreshRate is the tick rate of Run, in ticks per second.
	DefaultRefreshRate = 60.0

	// invocationWarnEvery limits invocation failure warnings to the first and every Nth after it.
	invocationWarnEvery = 100

	// latencyWindow is how many recent cycle latencies the percentiles in Stats cover.
	latencyWindow = 128
)

// Status strings reported by Stats.
const (
	StatusLoading = "loading model"
	StatusFailed  = "model failed"
	StatusReady   = "running"
	StatusStopped = "stopped"
)

// ErrStopped is returned by LoadModel after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Config wires a scheduler to its stages.
type Config struct {
	Source        camera.Source
	Preprocessor  *rimage.Preprocessor
	Decoder       *objectdetection.Decoder
	Suppressor    *objectdetection.Suppressor
	Mapper        *objectdetection.Mapper
	Postprocessor objectdetection.Postprocessor
	Sinks         []Sink

	// DisplayWidth and DisplayHeight are the display the mapper scales into. Zero means the size of
	// each frame.
	DisplayWidth, DisplayHeight int

	// RefreshRate is how many times per second Run ticks. Zero means DefaultRefreshRate.
	RefreshRate float64
	Clock       clock.Clock
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	if cfg.Source == nil {
		return utils.NewConfigValidationFieldRequiredError("pipeline", "source")
	}
	if cfg.Preprocessor == nil {
		return utils.NewConfigValidationFieldRequiredError("pipeline", "preprocessor")
	}
	if cfg.Decoder == nil {
		return utils.NewConfigValidationFieldRequiredError("pipeline", "decoder")
	}
	if cfg.Suppressor == nil {
		return utils.NewConfigValidationFieldRequiredError("pipeline", "suppressor")
	}
	if cfg.Mapper == nil {
		return utils.NewConfigValidationFieldRequiredError("pipeline", "mapper")
	}
	if cfg.RefreshRate < 0 {
		return utils.NewConfigValidationError("pipeline", errors.Errorf("refresh rate cannot be negative, got %v", cfg.RefreshRate))
	}
	if cfg.DisplayWidth < 0 || cfg.DisplayHeight < 0 {
		return utils.NewConfigValidationError("pipeline", errors.New("display size cannot be negative"))
	}
	return nil
}

// Stats are the scheduler's counters since it was created.
type Stats struct {
	Status            string
	Cycles            uint64
	SkippedBusy       uint64
	SkippedNotReady   uint64
	FramesUnavailable uint64
	FrameErrors       uint64
	InvocationErrors  uint64
	LastStatus        string
	LatencyP50        time.Duration
	LatencyP90        time.Duration
}

type loadedModel struct {
	backend inference.Backend
}

// Scheduler drives detection cycles. At most one cycle runs at a time: a tick that arrives while a
// cycle is running is dropped, not queued.
type Scheduler struct {
	cfg    Config
	logger logging.Logger
	clock  clock.Clock
	state  *State

	model       atomic.Pointer[loadedModel]
	loadStarted atomic.Bool
	loadFailed  atomic.Bool
	workers     utils.StoppableWorkers
	stopOnce    sync.Once
	stopped     chan struct{}

	cycles            atomic.Uint64
	skippedBusy       atomic.Uint64
	skippedNotReady   atomic.Uint64
	framesUnavailable atomic.Uint64
	frameErrors       atomic.Uint64
	invocationErrors  atomic.Uint64

	mu         sync.Mutex
	latencies  []float64
	lastStatus string
}

// NewScheduler validates cfg and returns a scheduler with no model loaded.
func NewScheduler(cfg Config, logger logging.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RefreshRate == 0 {
		cfg.RefreshRate = DefaultRefreshRate
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		state:   NewState(),
		workers: utils.NewStoppableWorkers(),
		stopped: make(chan struct{}),
	}, nil
}

// State returns the scheduler's latch.
func (s *Scheduler) State() *State {
	return s.state
}

// LoadModel starts loading a model in the background and returns immediately. Cycles are no-ops
// until the load succeeds. A failed load is logged once and leaves the scheduler without a model
// for good.
func (s *Scheduler) LoadModel(loader inference.Loader, desc inference.ModelDescriptor) error {
	if s.isStopped() {
		return ErrStopped
	}
	if !s.loadStarted.CompareAndSwap(false, true) {
		return errors.New("model already loading or loaded")
	}
	s.workers.AddWorkers(func(ctx context.Context) {
		start := s.clock.Now()
		backend, err := inference.Load(ctx, loader, desc)
		if err != nil {
			s.loadFailed.Store(true)
			s.logger.Errorw("model failed to load, detection disabled", "error", err)
			return
		}
		if ctx.Err() != nil {
			goutils.UncheckedError(backend.Close(context.Background()))
			return
		}
		s.UseBackend(backend)
		s.logger.Infow("model ready", "path", desc.Path, "took", s.clock.Since(start))
	})
	return nil
}

// UseBackend installs an already loaded backend and marks the model ready. Only the first call has
// any effect.
func (s *Scheduler) UseBackend(backend inference.Backend) {
	if backend == nil {
		return
	}
	if s.model.CompareAndSwap(nil, &loadedModel{backend: backend}) {
		s.loadStarted.Store(true)
		s.state.SetModelReady()
	}
}

// Tick is the refresh callback. It runs one whole cycle when the model is ready and no cycle is
// running, and does nothing otherwise. Per-cycle failures are logged and contained; the only errors
// returned are configuration errors that make every future cycle fail too.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.isStopped() {
		return nil
	}
	if !s.state.ModelReady() {
		s.skippedNotReady.Inc()
		return nil
	}
	if !s.state.TryAcquire() {
		s.skippedBusy.Inc()
		return nil
	}
	defer s.state.Release()
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "pipeline::cycle")
	defer span.End()

	start := s.clock.Now()
	frame, releaseFrame, err := s.cfg.Source.Next(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrNoFrame) {
			s.framesUnavailable.Inc()
			s.logger.Debug("no frame available")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		s.frameErrors.Inc()
		s.logger.Warnw("cannot get frame", "error", err)
		return nil
	}
	if releaseFrame != nil {
		defer releaseFrame()
	}
	if frame == nil {
		s.framesUnavailable.Inc()
		return nil
	}

	in, err := s.cfg.Preprocessor.Process(frame)
	if err != nil {
		return errors.Wrap(err, "cannot preprocess frame")
	}
	defer s.release(in)

	model := s.model.Load()
	out, err := inference.Invoke(ctx, model.backend, in)
	if err != nil {
		if n := s.invocationErrors.Inc(); n == 1 || n%invocationWarnEvery == 0 {
			s.logger.Warnw("inference failed, skipping frame", "error", err, "failures", n)
		}
		return nil
	}
	defer s.release(out)

	dets, err := s.detect(ctx, out)
	if err != nil {
		return err
	}

	displayW, displayH := s.displaySize(frame)
	status := StatusString(dets)
	latency := s.clock.Since(start)
	res := Result{
		Cycle:         s.cycles.Inc(),
		Frame:         frame,
		DisplayWidth:  displayW,
		DisplayHeight: displayH,
		Detections:    dets,
		Points:        s.cfg.Mapper.Points(dets, displayW, displayH),
		Boxes:         s.cfg.Mapper.Boxes(dets, displayW, displayH),
		Status:        status,
		Latency:       latency,
		Time:          s.clock.Now(),
	}
	s.record(latency, status)
	for _, sink := range s.cfg.Sinks {
		sink.Render(ctx, res)
	}
	return nil
}

func (s *Scheduler) detect(ctx context.Context, out *ml.Buffer) ([]objectdetection.Detection, error) {
	_, span := trace.StartSpan(ctx, "pipeline::detect")
	defer span.End()

	dcfg := s.cfg.Decoder.Config()
	candidates, err := s.cfg.Decoder.DecodeBuffer(out, dcfg.InputWidth, dcfg.InputHeight)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode model output")
	}
	dets := s.cfg.Suppressor.Suppress(candidates)
	if s.cfg.Postprocessor != nil {
		dets = s.cfg.Postprocessor(dets)
	}
	return dets, nil
}

func (s *Scheduler) release(b *ml.Buffer) {
	if err := b.Release(); err != nil {
		s.logger.Errorw("tensor buffer released more than once", "error", err)
	}
}

func (s *Scheduler) displaySize(frame image.Image) (int, int) {
	if s.cfg.DisplayWidth > 0 && s.cfg.DisplayHeight > 0 {
		return s.cfg.DisplayWidth, s.cfg.DisplayHeight
	}
	return frame.Bounds().Dx(), frame.Bounds().Dy()
}

func (s *Scheduler) record(latency time.Duration, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = status
	if len(s.latencies) == latencyWindow {
		s.latencies = s.latencies[1:]
	}
	s.latencies = append(s.latencies, float64(latency))
}

// Run ticks at the configured refresh rate until ctx is done or Stop is called. It returns the
// first configuration error a cycle hits.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / s.cfg.RefreshRate)
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	s.logger.Infow("detection loop started", "refresh_rate", s.cfg.RefreshRate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		case <-ticker.C:
		}
		if err := s.Tick(ctx); err != nil {
			s.logger.Errorw("detection loop stopped", "error", err)
			return err
		}
	}
}

// Stop ends Run, abandons any model load in flight and makes future ticks no-ops.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
	s.workers.Stop()
}

// Close stops the scheduler and releases the model.
func (s *Scheduler) Close(ctx context.Context) error {
	s.Stop()
	if model := s.model.Load(); model != nil {
		return model.backend.Close(ctx)
	}
	return nil
}

func (s *Scheduler) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Status:            s.status(),
		Cycles:            s.cycles.Load(),
		SkippedBusy:       s.skippedBusy.Load(),
		SkippedNotReady:   s.skippedNotReady.Load(),
		FramesUnavailable: s.framesUnavailable.Load(),
		FrameErrors:       s.frameErrors.Load(),
		InvocationErrors:  s.invocationErrors.Load(),
	}

	s.mu.Lock()
	st.LastStatus = s.lastStatus
	latencies := append([]float64(nil), s.latencies...)
	s.mu.Unlock()

	if len(latencies) > 0 {
		if p, err := stats.Percentile(latencies, 50); err == nil {
			st.LatencyP50 = time.Duration(p)
		}
		if p, err := stats.Percentile(latencies, 90); err == nil {
			st.LatencyP90 = time.Duration(p)
		}
	}
	return st
}

func (s *Scheduler) status() string {
	switch {
	case s.isStopped():
		return StatusStopped
	case s.state.ModelReady():
		return StatusReady
	case s.loadFailed.Load():
		return StatusFailed
	default:
		return StatusLoading
	}
}
