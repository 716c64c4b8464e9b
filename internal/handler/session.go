package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"liveview/internal/logger"
	"liveview/internal/service"
	"liveview/internal/service/capture"
)

type errorResponse struct {
	Error string `json:"error"`
}

// ActivateHandler requests the capture stream. It answers 202 once the stream is open;
// the loop starts when the first frame arrives.
func ActivateHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		err := manager.Activate(r.Context())
		if err != nil {
			code := activateStatusCode(err)
			logger.Warning("Activation rejected (%d): %v", code, err)
			writeJSON(w, code, errorResponse{Error: err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusAccepted, manager.Status(), logger)
	}
}

func activateStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrModelNotReady), errors.Is(err, service.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrCaptureUnsupported), errors.Is(err, capture.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// StatusHandler returns the session status as JSON.
func StatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// SnapshotHandler returns the current frame with the overlay drawn on it.
func SnapshotHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		data, err := manager.Snapshot()
		if errors.Is(err, service.ErrNoFrame) {
			http.Error(w, "No frame captured yet", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Failed to render snapshot: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// FrameHandler returns the latest raw frame. The page overlays annotations on it in the DOM.
func FrameHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		frame, err := manager.Frame()
		if err != nil {
			http.Error(w, "No frame captured yet", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
		w.Write(frame.Data)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}
