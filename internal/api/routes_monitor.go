package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/config"
)

// handleGetStatus reports the proxy. Before launch completes the state is
// "starting".
func (s *Server) handleGetStatus(c *gin.Context) {
	h := s.proxy.Load()
	if h == nil {
		c.JSON(http.StatusOK, gin.H{
			"state":          "starting",
			"target_version": s.cfg.GetProxy().TargetVersion,
		})
		return
	}

	state := "ready"
	if !h.Running() {
		state = "exited"
	}

	resp := gin.H{
		"state":             state,
		"bind_address":      h.BindAddress().String(),
		"target_version":    h.Version(),
		"backend_proxy_url": h.BackendProxyURL(),
		"java":              h.Runtime().String(),
		"artifact":          h.Artifact(),
		"ready_at":          h.ReadyAt(),
		"process":           h.Stats(),
	}
	if s.deps.Relay != nil {
		resp["pending_joins"] = s.deps.Relay.Pending()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetArtifacts(c *gin.Context) {
	statuses := artifact.Status(s.deps.Artifacts)
	present := 0
	for _, st := range statuses {
		if st.Present {
			present++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"artifacts": statuses,
		"total":     len(statuses),
		"present":   present,
	})
}

// handleGetConnections lists live login connections and the relay's view of
// each of them.
func (s *Server) handleGetConnections(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions not available"})
		return
	}

	conns := s.deps.Sessions.Connections()
	resp := gin.H{
		"connections": conns,
		"total":       len(conns),
	}
	if s.deps.Relay != nil {
		resp["relay"] = s.deps.Relay.Snapshot()
	}
	if loop := s.deps.Sessions.Loop(); loop != nil {
		resp["scheduler"] = loop.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store not available"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-1000"})
			return
		}
		limit = n
	}

	history, err := s.deps.Accounts.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": history,
		"total":  len(history),
	})
}

// handleGetConfig returns the configuration with its validation result.
func (s *Server) handleGetConfig(c *gin.Context) {
	res := config.Validate(s.cfg)
	c.JSON(http.StatusOK, gin.H{
		"proxy":          s.cfg.GetProxy(),
		"artifacts":      s.cfg.GetArtifacts(),
		"session_server": s.cfg.GetSessionServer(),
		"valid":          res.IsValid(),
		"errors":         res.Errors,
		"warnings":       res.Warnings,
	})
}
