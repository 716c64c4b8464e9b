package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"liveview/internal/dto"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"permission", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, ErrPermissionDenied},
		{"eperm", errors.Wrap(syscall.EPERM, "bind"), ErrPermissionDenied},
		{"os permission", os.ErrPermission, ErrPermissionDenied},
		{"missing device", &os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, ErrDeviceError},
		{"generic", errors.New("sensor on fire"), ErrDeviceError},
		{"already unsupported", errors.Wrap(ErrNotSupported, "no v4l2"), ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.True(t, errors.Is(got, tt.kind), "Classify(%v) = %v", tt.err, got)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestClassify_KeepsCause(t *testing.T) {
	cause := &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}
	got := Classify(cause)

	var pathErr *os.PathError
	require.True(t, errors.As(got, &pathErr))
	assert.Equal(t, "/dev/video0", pathErr.Path)
	assert.False(t, errors.Is(got, ErrDeviceError))
}

func TestLatest_ReplacesFrames(t *testing.T) {
	l := NewLatest()

	_, ok := l.Current()
	assert.False(t, ok)
	select {
	case <-l.FirstFrame():
		t.Fatal("first frame signalled before any frame")
	default:
	}

	l.Publish(dto.Frame{Data: []byte{1}})
	l.Publish(dto.Frame{Data: []byte{2}})

	f, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, f.Data)
	assert.Equal(t, uint64(2), f.Seq)
	assert.False(t, f.CapturedAt.IsZero())
	assert.Equal(t, uint64(2), l.Published())

	select {
	case <-l.FirstFrame():
	default:
		t.Fatal("first frame not signalled")
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func sendChunks(t *testing.T, conn net.Conn, data []byte, chunk int) {
	t.Helper()
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		_, err := conn.Write(data[start:end])
		require.NoError(t, err)
	}
}

func TestUDPStream_ReassemblesFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// A stray tail without a start marker is ignored.
	_, err = conn.Write([]byte{0x01, 0x02, 0xFF, 0xD9})
	require.NoError(t, err)

	frame := testJPEG(t, 16, 12)
	sendChunks(t, conn, frame, 64)

	select {
	case <-s.FirstFrame():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	got, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, frame, got.Data)
	assert.Equal(t, 16, got.Width)
	assert.Equal(t, 12, got.Height)
	assert.Equal(t, uint64(1), s.Published())
}

func TestUDPStream_DropsUndecodableFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("udp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xFF, 0xD8, 0x00, 0x00, 0xFF, 0xD9})
	require.NoError(t, err)
	sendChunks(t, conn, testJPEG(t, 4, 4), 512)

	select {
	case <-s.FirstFrame():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	got, _ := s.Current()
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, uint64(1), s.Published())
}

func TestUDPOpener_Open(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := &UDPOpener{}
	assert.True(t, o.Supported())

	stream, err := o.Open(context.Background(), Constraints{Device: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Close(), "close is idempotent")
}

func TestUDPOpener_BadAddress(t *testing.T) {
	o := &UDPOpener{}

	_, err := o.Open(context.Background(), Constraints{Device: "not-an-address:xyz"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceError))
}

func TestUDPOpener_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&UDPOpener{}).Open(ctx, Constraints{Device: "127.0.0.1:0"})
	assert.ErrorIs(t, err, context.Canceled)
}
