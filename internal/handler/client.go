package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"liveview/internal/logger"
	"liveview/internal/service"
	ws "liveview/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler attaches a viewer to the overlay view. The viewer receives the
// current status and element snapshot, then every overlay operation.
func ViewWebsocketHandler(manager *service.Manager, view *ws.View, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		client := view.Attach(connection, manager.Status())
		if client == nil {
			connection.Close()
			return
		}
		defer view.Detach(client)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Viewer disconnected normally")
				} else {
					logger.Debug("Viewer disconnected: %v", err)
				}
				break
			}
		}
	}
}
