// Package websocket fans overlay updates out to browser viewers.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveview/internal/logger"
)

const (
	// sendBuffer is the number of messages queued per viewer before it is dropped as slow.
	sendBuffer = 256
	writeWait  = 5 * time.Second
)

// Client is one connected viewer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
	eventBroadcast
)

type event struct {
	kind    eventKind
	client  *Client
	message []byte
	initial [][]byte
}

// HubService serializes registrations and broadcasts through one goroutine, so a viewer
// registered with initial messages sees them before any later broadcast.
type HubService struct {
	clients map[*Client]bool
	events  chan event
	done    chan struct{}
	mutex   sync.RWMutex
	logger  *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients: make(map[*Client]bool),
		events:  make(chan event),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run processes hub events until ctx is done, then disconnects every viewer.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case e := <-h.events:
			switch e.kind {
			case eventRegister:
				h.mutex.Lock()
				h.clients[e.client] = true
				count := len(h.clients)
				h.mutex.Unlock()
				for _, msg := range e.initial {
					e.client.send <- msg
				}
				go h.writePump(e.client)
				h.logger.Info("Viewer connected. Total: %d", count)

			case eventUnregister:
				h.mutex.Lock()
				_, ok := h.clients[e.client]
				if ok {
					delete(h.clients, e.client)
					close(e.client.send)
				}
				count := len(h.clients)
				h.mutex.Unlock()
				if ok {
					h.logger.Info("Viewer disconnected. Total: %d", count)
				}

			case eventBroadcast:
				h.mutex.Lock()
				for client := range h.clients {
					select {
					case client.send <- e.message:
					default:
						h.logger.Warning("Dropping slow viewer %s", client.conn.RemoteAddr())
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mutex.Unlock()
			}
		}
	}
}

// Register adds a viewer; initial messages are queued ahead of any later broadcast.
// It returns nil once the hub has stopped.
func (h *HubService) Register(conn *websocket.Conn, initial ...[]byte) *Client {
	client := &Client{conn: conn, send: make(chan []byte, sendBuffer+len(initial))}
	if !h.submit(event{kind: eventRegister, client: client, initial: initial}) {
		return nil
	}
	return client
}

// Unregister removes a viewer and closes its connection.
func (h *HubService) Unregister(client *Client) {
	if client == nil {
		return
	}
	h.submit(event{kind: eventUnregister, client: client})
}

// Broadcast queues message for every viewer. It is a no-op once the hub has stopped.
func (h *HubService) Broadcast(message []byte) {
	h.submit(event{kind: eventBroadcast, message: message})
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Done is closed when Run has returned.
func (h *HubService) Done() <-chan struct{} {
	return h.done
}

func (h *HubService) submit(e event) bool {
	select {
	case h.events <- e:
		return true
	case <-h.done:
		return false
	}
}

func (h *HubService) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			h.Unregister(client)
			// Drain until the hub closes the channel.
			for range client.send {
			}
			return
		}
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
