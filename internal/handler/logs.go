package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"liveview/internal/config"
	"liveview/internal/logger"
)

// ShowInfoLogsHandler serves the info.log file as text/plain.
func ShowInfoLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.InfoFile)
	}
}

// ShowWarningLogsHandler serves the warning.log file as text/plain.
func ShowWarningLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.WarningFile)
	}
}

// ShowErrorLogsHandler serves the error.log file as text/plain.
func ShowErrorLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.ErrorFile)
	}
}

// serveLogFile is a helper that sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}

// ClearInfoLogsHandler truncates info.log via the logger utility.
func ClearInfoLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return clearLogFile(logger, "info.log")
}

// ClearWarningLogsHandler truncates warning.log via the logger utility.
func ClearWarningLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return clearLogFile(logger, "warning.log")
}

// ClearErrorLogsHandler truncates error.log via the logger utility.
func ClearErrorLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return clearLogFile(logger, "error.log")
}

func clearLogFile(logger *logger.Logger, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := logger.CleanLogs(filename); err != nil {
			logger.Error("Failed to clear %s: %v", filename, err)
			http.Error(w, "Failed to clear logs", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
