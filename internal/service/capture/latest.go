package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"liveview/internal/dto"
)

// Latest holds the most recent frame of a stream. Frames are replaced, never queued,
// so a slow consumer only ever sees the current one.
type Latest struct {
	frame     atomic.Pointer[dto.Frame]
	seq       atomic.Uint64
	firstOnce sync.Once
	first     chan struct{}
}

// NewLatest creates an empty frame store.
func NewLatest() *Latest {
	return &Latest{first: make(chan struct{})}
}

// Publish stores a frame, assigning its sequence number and capture time when unset.
// The first published frame closes FirstFrame.
func (l *Latest) Publish(f dto.Frame) {
	f.Seq = l.seq.Add(1)
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	l.frame.Store(&f)
	l.firstOnce.Do(func() { close(l.first) })
}

// Current returns the most recent frame, if any.
func (l *Latest) Current() (dto.Frame, bool) {
	f := l.frame.Load()
	if f == nil {
		return dto.Frame{}, false
	}
	return *f, true
}

// FirstFrame is closed once the first frame has been published.
func (l *Latest) FirstFrame() <-chan struct{} {
	return l.first
}

// Published returns the number of frames published so far.
func (l *Latest) Published() uint64 {
	return l.seq.Load()
}
