package overlay

// Kind distinguishes the two visual primitives of an annotation.
type Kind string

const (
	KindOutline Kind = "outline"
	KindLabel   Kind = "label"
)

// Element is one rendered annotation artifact in screen coordinates. Elements map 1:1
// onto frame pixels. Labels have no height; their Width is the display width of the text box.
type Element struct {
	ID     string  `json:"id"`
	Kind   Kind    `json:"kind"`
	Text   string  `json:"text,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height,omitempty"`
}

// Container is the surface elements are inserted into. The renderer mutates it but does
// not own it. Remove receives the same pointer previously passed to Append.
type Container interface {
	Append(el *Element)
	Remove(el *Element)
}

// Containers fans every mutation out to each container in order.
type Containers []Container

func (cs Containers) Append(el *Element) {
	for _, c := range cs {
		c.Append(el)
	}
}

func (cs Containers) Remove(el *Element) {
	for _, c := range cs {
		c.Remove(el)
	}
}
