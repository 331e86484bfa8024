package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

var logFiles = map[string]string{
	"info":    "info.log",
	"warning": "warning.log",
	"error":   "error.log",
}

// ShowLogsHandler serves one of the per-level log files named by :level.
func ShowLogsHandler(logDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename, ok := logFiles[c.Param("level")]
		if !ok || logDir == "" {
			c.String(http.StatusNotFound, "Unknown log level: %s", c.Param("level"))
			return
		}
		serveLogFile(c, logDir, filename)
	}
}

func serveLogFile(c *gin.Context, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.String(http.StatusNotFound, "Log file not found: %s", filename)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	http.ServeFile(c.Writer, c.Request, filePath)
}
