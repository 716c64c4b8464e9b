package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"liveview/internal/dto"
	"liveview/internal/logger"
	"liveview/internal/service/overlay"
)

// Message types sent to viewers.
const (
	TypeAppend   = "append"
	TypeRemove   = "remove"
	TypeSnapshot = "snapshot"
	TypeStatus   = "status"
)

// Message is one viewer update. Viewers apply append/remove operations to the set they
// received in the last snapshot.
type Message struct {
	Type     string            `json:"type"`
	Element  *overlay.Element  `json:"element,omitempty"`
	ID       string            `json:"id,omitempty"`
	Elements []overlay.Element `json:"elements,omitempty"`
	Status   *dto.Status       `json:"status,omitempty"`
}

// View is an overlay container mirrored to every viewer of the hub.
type View struct {
	hub    *HubService
	logger *logger.Logger

	mu       sync.Mutex
	elements []*overlay.Element
}

func NewView(hub *HubService, logger *logger.Logger) *View {
	return &View{hub: hub, logger: logger}
}

// Append adds el and broadcasts the insertion.
func (v *View) Append(el *overlay.Element) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.elements = append(v.elements, el)
	v.broadcast(Message{Type: TypeAppend, Element: el})
}

// Remove drops el and broadcasts the removal. Unknown elements are ignored.
func (v *View) Remove(el *overlay.Element) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, existing := range v.elements {
		if existing == el {
			v.elements = append(v.elements[:i], v.elements[i+1:]...)
			v.broadcast(Message{Type: TypeRemove, ID: el.ID})
			return
		}
	}
}

// Elements returns a copy of the live element set in insertion order.
func (v *View) Elements() []overlay.Element {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot()
}

// Attach registers conn with the hub. The viewer first receives status and a snapshot
// consistent with every operation broadcast after it.
func (v *View) Attach(conn *websocket.Conn, status dto.Status) *Client {
	v.mu.Lock()
	defer v.mu.Unlock()

	statusMsg, err := encode(Message{Type: TypeStatus, Status: &status})
	if err != nil {
		v.logger.Error("Failed to encode status: %v", err)
		return nil
	}
	snapshotMsg, err := encode(Message{Type: TypeSnapshot, Elements: v.snapshot()})
	if err != nil {
		v.logger.Error("Failed to encode snapshot: %v", err)
		return nil
	}
	return v.hub.Register(conn, statusMsg, snapshotMsg)
}

// Detach unregisters a viewer returned by Attach.
func (v *View) Detach(client *Client) {
	v.hub.Unregister(client)
}

// PublishStatus broadcasts status to every viewer.
func (v *View) PublishStatus(status dto.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.broadcast(Message{Type: TypeStatus, Status: &status})
}

func (v *View) snapshot() []overlay.Element {
	out := make([]overlay.Element, len(v.elements))
	for i, el := range v.elements {
		out[i] = *el
	}
	return out
}

func (v *View) broadcast(msg Message) {
	data, err := encode(msg)
	if err != nil {
		v.logger.Error("Failed to encode %s message: %v", msg.Type, err)
		return
	}
	v.hub.Broadcast(data)
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
