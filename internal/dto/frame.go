package dto

import "time"

// Frame is a single JPEG-encoded frame taken from a capture stream.
// Data must not be modified once the frame is published.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}
