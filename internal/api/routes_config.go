package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/config"
	"github.com/Nozemi/rsmod/internal/events"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":          s.cfg.GetGateway(),
		"application_data": s.cfg.GetApplicationData(),
	})
}

// handlePatchGateway updates gateway settings by JSON key. The whole patch
// is rejected when the result does not validate. The running gateway keeps
// the settings it started with, so every key takes effect on the next
// restart.
func (s *Server) handlePatchGateway(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(patch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}

	previous := s.cfg.GetGateway()
	for key, value := range patch {
		if err := s.cfg.UpdateGatewayField(key, value); err != nil {
			s.cfg.SetGateway(previous)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": key})
			return
		}
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.cfg.SetGateway(previous)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "configuration is invalid",
			"errors": result.Errors,
		})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	for key, value := range patch {
		s.emit(c.Request.Context(), events.EventConfigChanged, events.ConfigChangedPayload{
			Section: "gateway",
			Key:     key,
			Value:   value,
		})
	}

	log.Info().Interface("patch", patch).Str("client_ip", c.ClientIP()).Msg("API: gateway config updated")

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"gateway":          s.cfg.GetGateway(),
		"warnings":         result.Warnings,
		"restart_required": true,
	})
}
