package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rsmod",
		"version": s.version,
	})
}

// handleGetVersion returns build information.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":       "rsmod",
		"version":    s.version,
		"go_version": runtime.Version(),
		"device":     s.gateway.Device().String(),
	})
}
