package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"liveview/internal/dto"
	"liveview/internal/service/overlay"
)

type fixture struct {
	hub    *HubService
	view   *View
	server *httptest.Server
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHubService(nil)
	go hub.Run(ctx)
	view := NewView(hub, nil)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := view.Attach(conn, dto.Status{Supported: true})
		defer view.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	f := &fixture{hub: hub, view: view, server: server, cancel: cancel}
	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.cancel()
	<-f.hub.Done()
	f.server.Close()
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestView_NewViewerGetsStatusThenSnapshot(t *testing.T) {
	f := newFixture(t)
	el := &overlay.Element{ID: "a", Kind: overlay.KindOutline, X: 1, Y: 2, Width: 3, Height: 4}
	f.view.Append(el)

	conn := f.dial(t)

	status := readMessage(t, conn)
	assert.Equal(t, TypeStatus, status.Type)
	require.NotNil(t, status.Status)
	assert.True(t, status.Status.Supported)

	snapshot := readMessage(t, conn)
	assert.Equal(t, TypeSnapshot, snapshot.Type)
	assert.Equal(t, []overlay.Element{*el}, snapshot.Elements)
}

func TestView_BroadcastsOperations(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn)
	readMessage(t, conn)

	el := &overlay.Element{ID: "label-1", Kind: overlay.KindLabel, Text: "person - with 90% confidence.", X: 10, Y: 10, Width: 90}
	f.view.Append(el)
	f.view.Remove(el)
	f.view.Remove(el) // unknown by now; not broadcast
	f.view.PublishStatus(dto.Status{Activated: true})

	appended := readMessage(t, conn)
	assert.Equal(t, TypeAppend, appended.Type)
	assert.Equal(t, el, appended.Element)

	removed := readMessage(t, conn)
	assert.Equal(t, Message{Type: TypeRemove, ID: "label-1"}, removed)

	status := readMessage(t, conn)
	assert.Equal(t, TypeStatus, status.Type)
	assert.True(t, status.Status.Activated)

	assert.Empty(t, f.view.Elements())
}

func TestView_ElementsKeepInsertionOrder(t *testing.T) {
	hub := NewHubService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	v := NewView(hub, nil)
	a, b, c := &overlay.Element{ID: "a"}, &overlay.Element{ID: "b"}, &overlay.Element{ID: "c"}
	v.Append(a)
	v.Append(b)
	v.Append(c)
	v.Remove(b)

	els := v.Elements()
	require.Len(t, els, 2)
	assert.Equal(t, "a", els[0].ID)
	assert.Equal(t, "c", els[1].ID)
}

func TestHub_CountsViewers(t *testing.T) {
	f := newFixture(t)
	f.dial(t)
	second := f.dial(t)

	assert.Eventually(t, func() bool { return f.hub.GetClientCount() == 2 }, 2*time.Second, time.Millisecond)

	second.Close()
	assert.Eventually(t, func() bool { return f.hub.GetClientCount() == 1 }, 2*time.Second, time.Millisecond)
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHubService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Broadcast([]byte("late"))
		assert.Nil(t, hub.Register(nil))
		hub.Unregister(nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopped hub blocked")
	}
}

func TestHub_ShutdownClosesViewers(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn)
	readMessage(t, conn)

	f.cancel()
	<-f.hub.Done()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
