package service

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"liveview/internal/config"
	"liveview/internal/dto"
	"liveview/internal/service/capture"
	"liveview/internal/service/overlay"
	"liveview/internal/service/scheduler"
)

const waitFor = 2 * time.Second

type stubDetector struct {
	calls  atomic.Int64
	closed atomic.Bool
}

func (d *stubDetector) Detect(context.Context, dto.Frame) ([]dto.Detection, error) {
	d.calls.Add(1)
	return []dto.Detection{{Category: "person", Confidence: 0.9, Region: dto.Region{X: 10, Y: 20, Width: 100, Height: 50}}}, nil
}

func (d *stubDetector) Close() error {
	d.closed.Store(true)
	return nil
}

type stubStream struct {
	*capture.Latest
	closes atomic.Int64
}

func (s *stubStream) Close() error {
	s.closes.Add(1)
	return nil
}

type stubOpener struct {
	supported bool
	err       error
	stream    *stubStream
	opened    atomic.Int64
	got       capture.Constraints
}

func (o *stubOpener) Supported() bool { return o.supported }

func (o *stubOpener) Open(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	o.opened.Add(1)
	o.got = c
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []dto.Status
}

func (p *recordingPublisher) PublishStatus(s dto.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, s)
}

func (p *recordingPublisher) last() dto.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return dto.Status{}
	}
	return p.statuses[len(p.statuses)-1]
}

type countingContainer struct {
	mu   sync.Mutex
	live map[*overlay.Element]bool
}

func (c *countingContainer) Append(el *overlay.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[el] = true
}

func (c *countingContainer) Remove(el *overlay.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, el)
}

func (c *countingContainer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *countingContainer) Snapshot(frame dto.Frame) ([]byte, error) {
	return append([]byte("annotated:"), frame.Data...), nil
}

type fixture struct {
	manager   *Manager
	detector  *stubDetector
	opener    *stubOpener
	stream    *stubStream
	publisher *recordingPublisher
	container *countingContainer
}

func newFixture(t *testing.T, loadErr error, supported bool) *fixture {
	t.Helper()

	f := &fixture{
		detector:  &stubDetector{},
		stream:    &stubStream{Latest: capture.NewLatest()},
		publisher: &recordingPublisher{},
		container: &countingContainer{live: make(map[*overlay.Element]bool)},
	}
	f.opener = &stubOpener{supported: supported, stream: f.stream}

	cfg := &config.Config{
		ModelFormat:      config.ModelFormatSSD,
		CaptureSource:    config.CaptureSourceWebcam,
		CaptureDevice:    "0",
		CaptureWidth:     640,
		CaptureHeight:    480,
		OverlayThreshold: 0.66,
	}
	renderer := overlay.NewRenderer(f.container, overlay.DefaultOptions())
	session := scheduler.NewSession(renderer, scheduler.Options{Threshold: cfg.OverlayThreshold})
	loader := ModelLoaderFunc(func(context.Context) (scheduler.Detector, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return f.detector, nil
	})
	f.manager = NewManager(cfg, session, loader, f.opener, f.publisher, f.container, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, f.manager.Close(ctx))
	})
	return f
}

func TestManager_ActivateBeforeModelLoaded(t *testing.T) {
	f := newFixture(t, nil, true)

	err := f.manager.Activate(context.Background())
	assert.ErrorIs(t, err, ErrModelNotReady)
	assert.Zero(t, f.opener.opened.Load())
	assert.False(t, f.manager.Status().Activated)
}

func TestManager_FullSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, nil, true)

	require.NoError(t, f.manager.LoadModel(context.Background()))
	assert.True(t, f.publisher.last().ModelReady)

	require.NoError(t, f.manager.Activate(context.Background()))
	assert.Equal(t, capture.Constraints{Device: "0", Width: 640, Height: 480}, f.opener.got)
	assert.ErrorIs(t, f.manager.Activate(context.Background()), ErrAlreadyActive)
	assert.Equal(t, int64(1), f.opener.opened.Load())

	_, err := f.manager.Snapshot()
	assert.ErrorIs(t, err, ErrNoFrame)

	// Capture is open but no frame yet: the loop must not start.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.detector.calls.Load())

	f.stream.Publish(dto.Frame{Data: []byte{0xFF, 0xD8}, Width: 640, Height: 480})
	require.Eventually(t, func() bool { return f.manager.Status().Cycles >= 1 }, waitFor, time.Millisecond)

	status := f.manager.Status()
	assert.True(t, status.ModelReady)
	assert.True(t, status.CaptureReady)
	assert.True(t, status.Activated)
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.Elements)

	snap, err := f.manager.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("annotated:\xFF\xD8"), snap)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.manager.Close(ctx))
	assert.True(t, f.detector.closed.Load())
	assert.GreaterOrEqual(t, f.stream.closes.Load(), int64(1))
	assert.False(t, f.manager.Status().Running)
	assert.ErrorIs(t, f.manager.Activate(context.Background()), ErrClosed)
}

func TestManager_ModelLoadFailure(t *testing.T) {
	f := newFixture(t, errors.New("model file not found"), true)

	err := f.manager.LoadModel(context.Background())
	require.Error(t, err)

	status := f.publisher.last()
	assert.False(t, status.ModelReady)
	assert.Contains(t, status.ModelError, "model file not found")
	assert.ErrorIs(t, f.manager.Activate(context.Background()), ErrModelNotReady)
}

func TestManager_CaptureUnsupported(t *testing.T) {
	f := newFixture(t, nil, false)
	require.NoError(t, f.manager.LoadModel(context.Background()))

	assert.ErrorIs(t, f.manager.Activate(context.Background()), ErrCaptureUnsupported)
	status := f.manager.Status()
	assert.False(t, status.Supported)
	assert.False(t, status.Activated)
	assert.NotEmpty(t, status.CaptureError)
	assert.Zero(t, f.opener.opened.Load())
}

func TestManager_CaptureFailureIsTerminal(t *testing.T) {
	f := newFixture(t, nil, true)
	f.opener.err = syscall.EACCES
	require.NoError(t, f.manager.LoadModel(context.Background()))

	err := f.manager.Activate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)

	status := f.publisher.last()
	assert.Contains(t, status.CaptureError, "permission denied")
	assert.False(t, status.Running)

	assert.ErrorIs(t, f.manager.Activate(context.Background()), ErrAlreadyActive)
	assert.Equal(t, int64(1), f.opener.opened.Load())
}

func TestManager_StartLoadsInBackground(t *testing.T) {
	f := newFixture(t, nil, true)
	f.manager.Start()

	require.Eventually(t, func() bool { return f.manager.Status().ModelReady }, waitFor, time.Millisecond)
	assert.NoError(t, f.manager.Activate(context.Background()))
}

func TestManager_CloseBeforeFirstFrame(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, nil, true)
	require.NoError(t, f.manager.LoadModel(context.Background()))
	require.NoError(t, f.manager.Activate(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.manager.Close(ctx))

	assert.Equal(t, int64(1), f.stream.closes.Load())
	assert.True(t, f.detector.closed.Load())
	assert.Zero(t, f.detector.calls.Load())
}

func TestManager_UDPDevice(t *testing.T) {
	f := newFixture(t, nil, true)
	f.manager.config.CaptureSource = config.CaptureSourceUDP
	f.manager.config.CaptureUDPPort = 5005
	require.NoError(t, f.manager.LoadModel(context.Background()))
	require.NoError(t, f.manager.Activate(context.Background()))

	assert.Equal(t, ":5005", f.opener.got.Device)
}
