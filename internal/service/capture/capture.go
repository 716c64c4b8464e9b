// Package capture is the boundary to live pixel sources. A source is requested through
// an Opener, yields a Stream, and signals once its first decodable frame is available.
package capture

import (
	"context"
	"os"
	"syscall"

	"github.com/pkg/errors"

	"liveview/internal/dto"
)

// Capture request failures.
var (
	ErrNotSupported     = errors.New("capture not supported")
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrDeviceError      = errors.New("capture device error")
)

// Constraints describe the requested stream. Only video is ever requested.
type Constraints struct {
	Device string
	Width  int
	Height int
}

// Stream is a live source of frames. Current returns the most recent frame; FirstFrame
// is closed once a decodable frame has been published.
type Stream interface {
	Current() (dto.Frame, bool)
	FirstFrame() <-chan struct{}
	Close() error
}

// Opener requests access to a capture source.
type Opener interface {
	// Supported reports whether this platform can capture at all.
	Supported() bool
	// Open requests the stream. Errors wrap ErrNotSupported, ErrPermissionDenied or
	// ErrDeviceError.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Classify wraps err with the matching capture sentinel. Errors already carrying a
// sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotSupported), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceError):
		return err
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &classified{kind: ErrPermissionDenied, cause: err}
	default:
		return &classified{kind: ErrDeviceError, cause: err}
	}
}

type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string { return c.kind.Error() + ": " + c.cause.Error() }

func (c *classified) Is(target error) bool { return target == c.kind }

func (c *classified) Unwrap() error { return c.cause }
