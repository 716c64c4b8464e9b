// Package webcam captures frames from a local video device with gocv.
package webcam

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"liveview/internal/dto"
	"liveview/internal/logger"
	"liveview/internal/service/capture"
)

// readBackoff is the pause after a failed read before trying the device again.
const readBackoff = 50 * time.Millisecond

// Opener opens local capture devices.
type Opener struct {
	Logger *logger.Logger
}

// Supported reports whether any video device node exists. Non-Linux platforms are
// assumed capable and fail at Open time instead.
func (o *Opener) Supported() bool {
	if runtime.GOOS != "linux" {
		return true
	}
	nodes, err := filepath.Glob("/dev/video*")
	return err == nil && len(nodes) > 0
}

// Open opens the device named by c.Device (an index or a path/URL) and starts reading.
func (o *Opener) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !o.Supported() {
		return nil, errors.Wrap(capture.ErrNotSupported, "no video devices")
	}
	if err := checkAccess(c.Device); err != nil {
		return nil, capture.Classify(err)
	}

	vc, err := gocv.OpenVideoCapture(deviceID(c.Device))
	if err != nil {
		return nil, capture.Classify(errors.Wrapf(err, "open device %s", c.Device))
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(capture.ErrDeviceError, "device %s did not open", c.Device)
	}
	if c.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}

	s := &Stream{
		Latest: capture.NewLatest(),
		vc:     vc,
		device: c.Device,
		logger: o.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read()
	o.Logger.Info("Capture device %s opened", c.Device)
	return s, nil
}

// deviceID converts numeric device names to an index, leaving paths and URLs as-is.
func deviceID(device string) interface{} {
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	return device
}

// checkAccess surfaces permission problems on the device node before gocv hides them.
func checkAccess(device string) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	path := device
	if id, err := strconv.Atoi(device); err == nil {
		path = fmt.Sprintf("/dev/video%d", id)
	}
	if !filepath.IsAbs(path) {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

// Stream reads frames from an open device and keeps the latest one JPEG-encoded.
type Stream struct {
	*capture.Latest
	vc     *gocv.VideoCapture
	device string
	logger *logger.Logger

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Close stops reading and releases the device.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.vc.Close()
		s.logger.Info("Capture device %s released", s.device)
	})
	return err
}

func (s *Stream) read() {
	defer close(s.done)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			select {
			case <-s.stop:
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			s.logger.Error("Failed to encode frame from %s: %v", s.device, err)
			continue
		}
		data := make([]byte, len(buf.GetBytes()))
		copy(data, buf.GetBytes())
		buf.Close()

		s.Publish(dto.Frame{Data: data, Width: mat.Cols(), Height: mat.Rows()})
	}
}
