package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/outpost-project/rendezvous/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rendezvous",
	})
}

// handleStatus returns service and host information.
func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.lobby.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby unavailable"})
		return
	}

	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"server_name":     snap.ServerName,
		"udp_port":        snap.Port,
		"started_at":      snap.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds":  int64(time.Since(snap.StartedAt).Seconds()),
		"games":           len(snap.Games),
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

// handleGames returns the currently advertised games.
func (s *Server) handleGames(c *gin.Context) {
	snap, err := s.lobby.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"games": snap.Games,
	})
}

// handleCounters returns a snapshot of the protocol counters.
func (s *Server) handleCounters(c *gin.Context) {
	snap, err := s.lobby.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby unavailable"})
		return
	}

	c.JSON(http.StatusOK, snap.Counters)
}

// handleHistory returns recent game lifecycle transitions.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history log disabled"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}
