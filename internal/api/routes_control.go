package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/events"
	"github.com/Nozemi/rsmod/internal/network"
)

// handleCloseConnection drops a client session.
func (s *Server) handleCloseConnection(c *gin.Context) {
	id := c.Param("id")

	if err := s.gateway.CloseSession(id); err != nil {
		if errors.Is(err, network.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "session": id})
			return
		}
		log.Error().Err(err).Str("session", id).Msg("API: failed to close session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().
		Str("session", id).
		Str("client_ip", c.ClientIP()).
		Msg("API: session closed")

	s.emit(c.Request.Context(), events.EventCloseConnection, events.CloseConnectionPayload{SessionID: id})

	c.JSON(http.StatusOK, gin.H{
		"status":  "closed",
		"session": id,
	})
}

// handleSweepConnections closes idle sessions immediately.
func (s *Server) handleSweepConnections(c *gin.Context) {
	closed := s.gateway.SweepStale()
	log.Info().Int("closed", closed).Msg("API: stale sweep requested")

	c.JSON(http.StatusOK, gin.H{
		"status": "swept",
		"closed": closed,
	})
}
