package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nozemi/rsmod/internal/protocol"
	"github.com/Nozemi/rsmod/internal/util"
)

const (
	defaultViolationLimit = 50
	maxViolationLimit     = 1000
)

// handleGetOpcodes lists the descriptor table of a device.
func (s *Server) handleGetOpcodes(c *gin.Context) {
	device, err := protocol.ParseDevice(c.Param("device"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	table := s.gateway.Table()
	descriptors := table.Descriptors(device)
	infos := make([]protocol.DescriptorInfo, 0, len(descriptors))
	for _, d := range descriptors {
		infos = append(infos, d.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"device":      device.String(),
		"opcodes":     table.OpcodeCount(device),
		"descriptors": infos,
	})
}

// handleGetConnections lists live sessions.
func (s *Server) handleGetConnections(c *gin.Context) {
	sessions := s.gateway.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"connections": sessions,
		"total":       len(sessions),
	})
}

// handleGetViolations returns the most recent audit entries.
func (s *Server) handleGetViolations(c *gin.Context) {
	if s.violations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "violation audit is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultViolationLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxViolationLimit {
		limit = maxViolationLimit
	}

	violations, err := s.violations.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read violations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read violations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"violations": violations,
		"count":      len(violations),
	})
}

// handleGetViolationSummary returns violation counts per kind.
func (s *Server) handleGetViolationSummary(c *gin.Context) {
	if s.violations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "violation audit is disabled"})
		return
	}

	counts, err := s.violations.CountByKind(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("API: failed to count violations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count violations"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"by_kind": counts,
		"total":   total,
	})
}

// handleGetSystem returns host information and current load.
func (s *Server) handleGetSystem(c *gin.Context) {
	diskPath := filepath.Dir(s.cfg.GetApplicationData().Audit.DBPath)
	c.JSON(http.StatusOK, gin.H{
		"system":    util.GetSystemInfo(),
		"resources": util.GetResourceUsage(diskPath),
		"sessions":  len(s.gateway.Sessions()),
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	entries, err := readRecentLogEntries(s.cfg.GetApplicationData().Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log line.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest log
// file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	// File names embed a sortable timestamp, so the last match is newest.
	var latestFile string
	for i := len(dirEntries) - 1; i >= 0; i-- {
		if !dirEntries[i].IsDir() && filepath.Ext(dirEntries[i].Name()) == ".log" {
			latestFile = filepath.Join(logDir, dirEntries[i].Name())
			break
		}
	}
	if latestFile == "" {
		return []logEntry{}, nil
	}

	data, err := os.ReadFile(latestFile)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	start := len(lines) - count
	if start < 0 {
		start = 0
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true, "component": true,
	}

	result := make([]logEntry, 0, len(lines)-start)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
			Timestamp: stringFromMap(raw, "time"),
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}
	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
