// Package service coordinates the capture session: it loads the model, handles the
// activation request, and wires the first frame into the detection loop.
package service

import (
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"liveview/internal/config"
	"liveview/internal/dto"
	"liveview/internal/logger"
	"liveview/internal/service/capture"
	"liveview/internal/service/scheduler"
)

// Activation failures.
var (
	ErrModelNotReady      = errors.New("model not ready")
	ErrAlreadyActive      = errors.New("capture already active")
	ErrCaptureUnsupported = errors.New("capture not supported on this host")
	ErrNoFrame            = errors.New("no frame captured yet")
	ErrClosed             = errors.New("manager closed")
)

// ModelLoader loads the detection model once.
type ModelLoader interface {
	Load(ctx context.Context) (scheduler.Detector, error)
}

// ModelLoaderFunc adapts a function to ModelLoader.
type ModelLoaderFunc func(ctx context.Context) (scheduler.Detector, error)

func (f ModelLoaderFunc) Load(ctx context.Context) (scheduler.Detector, error) { return f(ctx) }

// StatusPublisher receives every status change.
type StatusPublisher interface {
	PublishStatus(status dto.Status)
}

// Compositor renders the live overlay onto a frame.
type Compositor interface {
	Len() int
	Snapshot(frame dto.Frame) ([]byte, error)
}

type Manager struct {
	config     *config.Config
	session    *scheduler.Session
	loader     ModelLoader
	opener     capture.Opener
	publisher  StatusPublisher
	compositor Compositor
	logger     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	supported    bool
	modelLoaded  bool
	activated    bool
	closed       bool
	stream       capture.Stream
	modelError   string
	captureError string
}

// NewManager checks capture support once and reports an unsupported host at error level.
func NewManager(cfg *config.Config, session *scheduler.Session, loader ModelLoader, opener capture.Opener,
	publisher StatusPublisher, compositor Compositor, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     cfg,
		session:    session,
		loader:     loader,
		opener:     opener,
		publisher:  publisher,
		compositor: compositor,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		supported:  opener.Supported(),
	}
	if !m.supported {
		m.captureError = capture.ErrNotSupported.Error()
		m.logger.Error("Capture is not supported on this host; activation disabled")
	}

	session.OnStart(func() {
		m.logger.Info("Live annotation started")
	})
	return m
}

// Start loads the model in the background.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.LoadModel(m.ctx)
	}()
}

// LoadModel loads the model and hands it to the session. A failure is terminal: the
// loop never starts and activation stays unavailable.
func (m *Manager) LoadModel(ctx context.Context) error {
	m.logger.Info("Loading %s detection model from %s", m.config.ModelFormat, m.config.ModelPath)
	model, err := m.loader.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(err, "load model")
		}
		m.mu.Lock()
		m.modelError = err.Error()
		m.mu.Unlock()
		m.logger.Error("Failed to load detection model: %v", err)
		m.PublishStatus()
		return errors.Wrap(err, "load model")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if c, ok := model.(io.Closer); ok {
			c.Close()
		}
		return ErrClosed
	}
	m.modelLoaded = true
	m.session.OnModelLoaded(model)
	m.mu.Unlock()

	m.logger.Info("Detection model ready")
	m.PublishStatus()
	return nil
}

// Activate requests the capture stream. It only succeeds once per process, after the
// model is loaded. A capture failure is terminal.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case !m.supported:
		m.mu.Unlock()
		return ErrCaptureUnsupported
	case !m.modelLoaded:
		m.mu.Unlock()
		return ErrModelNotReady
	case m.activated:
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.activated = true
	m.mu.Unlock()

	stream, err := m.opener.Open(ctx, capture.Constraints{
		Device: m.device(),
		Width:  m.config.CaptureWidth,
		Height: m.config.CaptureHeight,
	})
	if err != nil {
		err = capture.Classify(err)
		m.mu.Lock()
		m.captureError = err.Error()
		m.mu.Unlock()
		m.logger.Error("Capture request failed: %v", err)
		m.PublishStatus()
		return errors.Wrap(err, "request capture")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stream.Close()
		return ErrClosed
	}
	m.stream = stream
	m.wg.Add(1)
	m.mu.Unlock()

	go m.awaitFirstFrame(stream)

	m.logger.Info("Capture stream opened")
	m.PublishStatus()
	return nil
}

func (m *Manager) device() string {
	if m.config.CaptureSource == config.CaptureSourceUDP {
		return ":" + strconv.Itoa(m.config.CaptureUDPPort)
	}
	return m.config.CaptureDevice
}

func (m *Manager) awaitFirstFrame(stream capture.Stream) {
	defer m.wg.Done()

	select {
	case <-stream.FirstFrame():
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	if !m.closed {
		m.session.OnCaptureFirstFrame(stream)
	}
	m.mu.Unlock()

	m.logger.Info("First frame received")
	m.PublishStatus()
}

// Status returns the current session view.
func (m *Manager) Status() dto.Status {
	state := m.session.State()
	stats := m.session.Stats()

	m.mu.Lock()
	defer m.mu.Unlock()
	return dto.Status{
		LoopState:    state,
		Supported:    m.supported,
		Activated:    m.activated,
		Running:      m.session.Running(),
		ModelError:   m.modelError,
		CaptureError: m.captureError,
		Cycles:       stats.Cycles,
		Failures:     stats.Failures,
		Elements:     m.compositor.Len(),
	}
}

// PublishStatus pushes the current status to the publisher.
func (m *Manager) PublishStatus() {
	m.publisher.PublishStatus(m.Status())
}

// Frame returns the most recent captured frame.
func (m *Manager) Frame() (dto.Frame, error) {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()

	if stream == nil {
		return dto.Frame{}, ErrNoFrame
	}
	frame, ok := stream.Current()
	if !ok {
		return dto.Frame{}, ErrNoFrame
	}
	return frame, nil
}

// Snapshot returns the current frame with the live overlay drawn on it as JPEG.
func (m *Manager) Snapshot() ([]byte, error) {
	frame, err := m.Frame()
	if err != nil {
		return nil, err
	}
	return m.compositor.Snapshot(frame)
}

// Close stops the loop, releases the capture stream and the model, and waits for
// background work bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stream := m.stream
	m.mu.Unlock()
	m.cancel()

	err := m.session.Close(ctx)
	if stream != nil {
		err = multierr.Append(err, stream.Close())
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, errors.Wrap(ctx.Err(), "wait for background work"))
	}
	return err
}
