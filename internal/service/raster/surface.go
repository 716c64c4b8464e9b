// Package raster draws the live overlay element set onto captured frames.
package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"liveview/internal/dto"
	"liveview/internal/service/overlay"
)

const (
	outlineWidth = 2
	fontSize     = 12
	labelPadding = 2
	jpegQuality  = 85
)

var (
	outlineColor = color.RGBA{R: 255, A: 255}
	labelColor   = color.RGBA{R: 255, A: 255}
	textColor    = color.White
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Surface is an overlay container that keeps the live element set so it can be
// composited onto a frame on demand.
type Surface struct {
	mu       sync.Mutex
	elements []*overlay.Element
}

func NewSurface() *Surface {
	return &Surface{}
}

func (s *Surface) Append(el *overlay.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = append(s.elements, el)
}

func (s *Surface) Remove(el *overlay.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.elements {
		if existing == el {
			s.elements = append(s.elements[:i], s.elements[i+1:]...)
			return
		}
	}
}

// Len returns the number of live elements.
func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

// Compose draws the live elements over img.
func (s *Surface) Compose(img image.Image) image.Image {
	s.mu.Lock()
	elements := make([]overlay.Element, len(s.elements))
	for i, el := range s.elements {
		elements[i] = *el
	}
	s.mu.Unlock()

	dc := gg.NewContextForImage(img)
	for _, el := range elements {
		switch el.Kind {
		case overlay.KindOutline:
			drawRectangleEmpty(dc, el.X, el.Y, el.Width, el.Height)
		case overlay.KindLabel:
			drawLabel(dc, el)
		}
	}
	return dc.Image()
}

// Snapshot decodes frame, composes the overlay, and returns it as JPEG.
func (s *Surface) Snapshot(frame dto.Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, errors.New("no frame captured yet")
	}
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.Compose(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode snapshot")
	}
	return buf.Bytes(), nil
}

func drawRectangleEmpty(dc *gg.Context, x, y, w, h float64) {
	dc.SetColor(outlineColor)
	dc.SetLineWidth(outlineWidth)

	dc.DrawLine(x, y, x+w, y)
	dc.Stroke()
	dc.DrawLine(x, y, x, y+h)
	dc.Stroke()
	dc.DrawLine(x+w, y, x+w, y+h)
	dc.Stroke()
	dc.DrawLine(x, y+h, x+w, y+h)
	dc.Stroke()
}

// drawLabel fills the label box and writes its text with the box's top-left at (X, Y).
func drawLabel(dc *gg.Context, el overlay.Element) {
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))
	height := dc.FontHeight() + 2*labelPadding

	dc.SetColor(labelColor)
	dc.DrawRectangle(el.X, el.Y, el.Width, height)
	dc.Fill()

	dc.SetColor(textColor)
	dc.DrawStringWrapped(el.Text, el.X+labelPadding, el.Y+labelPadding, 0, 0, el.Width-2*labelPadding, 1, gg.AlignLeft)
}
