package scheduler

import (
	"context"
	"io"
	"sync"

	"go.uber.org/multierr"

	"liveview/internal/dto"
	"liveview/internal/logger"
)

// Session holds the model handle, the capture handle and the readiness flags of one
// capture session. The loop starts exactly once, when both the model and the capture
// stream have reported ready, in either order.
type Session struct {
	renderer Renderer
	opts     Options
	logger   *logger.Logger

	mu           sync.Mutex
	model        Detector
	source       FrameSource
	modelReady   bool
	captureReady bool
	scheduler    *Scheduler
	closed       bool
	onStart      []func()
}

// NewSession creates a session whose loop renders into renderer.
func NewSession(renderer Renderer, opts Options) *Session {
	return &Session{
		renderer: renderer,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// OnStart registers fn to run after the loop starts. Registered functions run outside
// the session lock.
func (s *Session) OnStart(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = append(s.onStart, fn)
}

// OnModelLoaded marks the model ready and starts the loop if capture is already ready.
// It reports whether this call started the loop. Later calls are ignored.
func (s *Session) OnModelLoaded(model Detector) bool {
	s.mu.Lock()
	if s.modelReady || s.closed {
		s.mu.Unlock()
		s.logger.Warning("Ignoring model ready signal: already ready or session closed")
		return false
	}
	s.model = model
	s.modelReady = true
	return s.maybeStartAndUnlock()
}

// OnCaptureFirstFrame marks capture ready and starts the loop if the model is already
// ready. It reports whether this call started the loop. Later calls are ignored.
func (s *Session) OnCaptureFirstFrame(source FrameSource) bool {
	s.mu.Lock()
	if s.captureReady || s.closed {
		s.mu.Unlock()
		s.logger.Warning("Ignoring first frame signal: already ready or session closed")
		return false
	}
	s.source = source
	s.captureReady = true
	return s.maybeStartAndUnlock()
}

func (s *Session) maybeStartAndUnlock() bool {
	if !s.modelReady || !s.captureReady || s.scheduler != nil {
		s.mu.Unlock()
		return false
	}
	s.scheduler = New(s.model, s.source, s.renderer, s.opts)
	started := s.scheduler.Start()
	hooks := append([]func(){}, s.onStart...)
	s.mu.Unlock()

	if started {
		for _, fn := range hooks {
			fn()
		}
	}
	return started
}

// State returns the current loop state flags.
func (s *Session) State() dto.LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := dto.LoopState{ModelReady: s.modelReady, CaptureReady: s.captureReady}
	if s.scheduler != nil {
		st.InferenceInFlight = s.scheduler.InFlight()
	}
	return st
}

// Running reports whether the loop is cycling.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil && s.scheduler.Running()
}

// Stats returns the loop counters; zero before the loop starts.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return Stats{}
	}
	return s.scheduler.Stats()
}

// Source returns the capture handle, or nil before capture is ready.
func (s *Session) Source() FrameSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Close stops the loop and releases the capture stream and the model. If an in-flight
// detect does not resolve before ctx is done the model is left open, since it is still
// in use, and the stop error is returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sched, source, model := s.scheduler, s.source, s.model
	s.mu.Unlock()

	var err error
	stopped := true
	if sched != nil {
		if stopErr := sched.Stop(ctx); stopErr != nil {
			stopped = false
			err = multierr.Append(err, stopErr)
		}
	}
	if c, ok := source.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := model.(io.Closer); ok && stopped {
		err = multierr.Append(err, c.Close())
	}
	return err
}
