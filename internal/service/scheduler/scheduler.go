// Package scheduler drives the frame-to-overlay loop: one inference call at a time
// against the current frame, each result handed to the renderer before the next cycle
// is armed.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"liveview/internal/dto"
	"liveview/internal/logger"
)

// Detector is the detection model boundary. Detect may fail; a failure only affects
// the cycle it happened in.
type Detector interface {
	Detect(ctx context.Context, frame dto.Frame) ([]dto.Detection, error)
}

// FrameSource yields the most recent decodable frame. ok is false until one exists.
type FrameSource interface {
	Current() (frame dto.Frame, ok bool)
}

// Renderer receives the detections of each successful cycle.
type Renderer interface {
	Render(detections []dto.Detection, threshold float64)
}

// Options configure a Scheduler.
type Options struct {
	Threshold float64
	Pacer     Pacer
	Logger    *logger.Logger
}

// Stats counts loop activity.
type Stats struct {
	Cycles      uint64        // Detect calls that resolved while the loop was live
	Failures    uint64        // Of those, the ones that returned an error or panicked
	Skipped     uint64        // Cycles with no frame available
	Discarded   uint64        // Results dropped because the loop was stopped mid-call
	LastLatency time.Duration // Duration of the last detect call
}

type state int

const (
	stateIdle state = iota
	stateCycling
	stateStopped
)

// Scheduler runs a single consumer goroutine fed by a capacity-1 arm channel, so a new
// cycle can only be requested once the previous one finished.
type Scheduler struct {
	detector  Detector
	source    FrameSource
	renderer  Renderer
	pacer     Pacer
	threshold float64
	logger    *logger.Logger

	mu     sync.Mutex
	state  state
	cancel context.CancelFunc
	arm    chan struct{}
	done   chan struct{}

	inFlight    atomic.Bool
	cycles      atomic.Uint64
	failures    atomic.Uint64
	skipped     atomic.Uint64
	discarded   atomic.Uint64
	lastLatency atomic.Int64
}

// New creates an idle Scheduler.
func New(detector Detector, source FrameSource, renderer Renderer, opts Options) *Scheduler {
	if opts.Pacer == nil {
		opts.Pacer = NewRatePacer(DefaultFrameRate)
	}
	return &Scheduler{
		detector:  detector,
		source:    source,
		renderer:  renderer,
		pacer:     opts.Pacer,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		arm:       make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start moves the scheduler from idle to cycling. It reports false when the scheduler
// was already started or has been stopped.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateIdle {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = stateCycling
	s.cancel = cancel
	s.rearm()
	go s.run(ctx)
	return true
}

// Stop prevents further inference, discards the result of an in-flight call, and waits
// for the loop goroutine to exit or ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if prev != stateCycling {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for in-flight detection")
	}
}

// Done is closed once a started loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Running reports whether the loop is cycling.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateCycling
}

// InFlight reports whether a detect call is unresolved.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Stats returns a snapshot of the loop counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Cycles:      s.cycles.Load(),
		Failures:    s.failures.Load(),
		Skipped:     s.skipped.Load(),
		Discarded:   s.discarded.Load(),
		LastLatency: time.Duration(s.lastLatency.Load()),
	}
}

func (s *Scheduler) rearm() {
	select {
	case s.arm <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	s.logger.Info("Detection loop started (threshold %.2f)", s.threshold)
	defer s.logger.Info("Detection loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.arm:
		}
		if ctx.Err() != nil {
			return
		}

		s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err := s.pacer.Wait(ctx); err != nil {
			return
		}
		s.rearm()
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	frame, ok := s.source.Current()
	if !ok {
		s.skipped.Add(1)
		return
	}

	start := time.Now()
	s.inFlight.Store(true)
	detections, err := s.detect(ctx, frame)
	s.inFlight.Store(false)
	s.lastLatency.Store(int64(time.Since(start)))

	if ctx.Err() != nil {
		s.discarded.Add(1)
		s.logger.Debug("Discarding detections for frame %d: loop stopped", frame.Seq)
		return
	}

	s.cycles.Add(1)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warning("Detection failed for frame %d: %v", frame.Seq, err)
		return
	}
	s.renderer.Render(detections, s.threshold)
}

func (s *Scheduler) detect(ctx context.Context, frame dto.Frame) (detections []dto.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("detector panicked: %v", r)
		}
	}()
	return s.detector.Detect(ctx, frame)
}
