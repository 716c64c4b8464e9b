// Package overlay turns detections into annotation elements inside a render container,
// clearing the previous frame's elements before drawing the next.
package overlay

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"liveview/internal/dto"
)

// Default presentation constants.
const (
	DefaultLabelMargin = 10.0
	DefaultLabelInset  = 10.0
)

// Options are the cosmetic offsets applied to labels.
type Options struct {
	LabelMargin float64 // Vertical distance from the box top to the label
	LabelInset  float64 // How much narrower than the box the label is
}

// DefaultOptions returns the stock label offsets.
func DefaultOptions() Options {
	return Options{LabelMargin: DefaultLabelMargin, LabelInset: DefaultLabelInset}
}

// Renderer owns the live set of annotation elements. It never fails: degenerate regions
// are rendered as given.
type Renderer struct {
	container Container
	opts      Options
	newID     func() string

	mu       sync.Mutex
	children []*Element
}

// NewRenderer creates a Renderer drawing into container.
func NewRenderer(container Container, opts Options) *Renderer {
	return &Renderer{
		container: container,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// Render removes every element created by the previous call and draws a label and an
// outline for each detection whose confidence is strictly above threshold, in order.
func (r *Renderer) Render(detections []dto.Detection, threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearLocked()
	for _, d := range detections {
		if !(d.Confidence > threshold) {
			continue
		}
		outline, label := r.elementsFor(d)
		r.container.Append(outline)
		r.container.Append(label)
		r.children = append(r.children, outline, label)
	}
}

// Clear removes every element currently rendered.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

func (r *Renderer) clearLocked() {
	for _, child := range r.children {
		r.container.Remove(child)
	}
	r.children = r.children[:0]
}

// Len returns the number of elements currently rendered.
func (r *Renderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

// Elements returns a copy of the elements currently rendered.
func (r *Renderer) Elements() []Element {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Element, 0, len(r.children))
	for _, child := range r.children {
		out = append(out, *child)
	}
	return out
}

func (r *Renderer) elementsFor(d dto.Detection) (*Element, *Element) {
	outline := &Element{
		ID:     r.newID(),
		Kind:   KindOutline,
		X:      d.Region.X,
		Y:      d.Region.Y,
		Width:  d.Region.Width,
		Height: d.Region.Height,
	}
	label := &Element{
		ID:    r.newID(),
		Kind:  KindLabel,
		Text:  FormatLabel(d.Category, d.Confidence),
		X:     d.Region.X,
		Y:     d.Region.Y - r.opts.LabelMargin,
		Width: d.Region.Width - r.opts.LabelInset,
	}
	return outline, label
}

// FormatLabel renders "<category> - with <pct>% confidence.". The percentage is rounded
// half away from zero.
func FormatLabel(category string, confidence float64) string {
	return fmt.Sprintf("%s - with %d%% confidence.", category, int(math.Round(confidence*100)))
}
