package route

import (
	"net/http"

	"liveview/internal/assets"
	"liveview/internal/config"
	"liveview/internal/handler"
	"liveview/internal/logger"
	"liveview/internal/middleware"
	"liveview/internal/service"
	"liveview/internal/service/websocket"
)

// SetupRoutes registers the page, API endpoints and log endpoints, and wraps the mux
// with the request logging middleware.
func SetupRoutes(manager *service.Manager, view *websocket.View, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Embedded page
	mux.Handle("/", http.FileServer(http.FS(assets.Static())))

	// API endpoints
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, view, logger))
	mux.HandleFunc("/api/activate", handler.ActivateHandler(manager, logger))
	mux.HandleFunc("/api/status", handler.StatusHandler(manager, logger))
	mux.HandleFunc("/api/frame", handler.FrameHandler(manager))
	mux.HandleFunc("/api/snapshot", handler.SnapshotHandler(manager, logger))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowInfoLogsHandler(cfg))
	mux.HandleFunc("/logs/warning", handler.ShowWarningLogsHandler(cfg))
	mux.HandleFunc("/logs/error", handler.ShowErrorLogsHandler(cfg))

	mux.HandleFunc("/logs/info/clear", handler.ClearInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning/clear", handler.ClearWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error/clear", handler.ClearErrorLogsHandler(logger))

	// Apply middleware
	return middleware.LoggingMiddleware(logger, mux)
}
