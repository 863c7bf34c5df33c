package api

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/streamfall/streamfall/internal/logger"
)

// LogsProvider exposes the log ring buffer and the rotating file path.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
	LogFilePath() string
}

// getLogs returns recent log entries from the ring buffer.
// GET /api/logs
func (s *Server) getLogs(c echo.Context) error {
	logs := s.deps.Logs.GetRecentLogs()
	if logs == nil {
		logs = []logger.LogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}

// downloadLogs serves the current log file for download.
// GET /api/logs/download
func (s *Server) downloadLogs(c echo.Context) error {
	logPath := s.deps.Logs.LogFilePath()
	if logPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}
	return c.Attachment(logPath, "streamfall.log")
}
