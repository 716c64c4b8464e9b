package scheduler

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer is the yield point between cycles. Wait blocks until the next cycle may begin or
// ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// PacerFunc adapts a function to Pacer.
type PacerFunc func(ctx context.Context) error

func (f PacerFunc) Wait(ctx context.Context) error { return f(ctx) }

// DefaultFrameRate is the pacing used when no Pacer is configured.
const DefaultFrameRate = 60

// NewRatePacer spaces cycle starts at most fps per second, the stand-in for a display's
// refresh cadence. A slow cycle is followed by an immediate next one.
func NewRatePacer(fps float64) Pacer {
	return rate.NewLimiter(rate.Limit(fps), 1)
}
