package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/viabridge-project/viabridge/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "viabridge",
		"version": s.deps.Version,
	})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        s.deps.Version,
		"name":           "viabridge",
		"target_version": s.cfg.GetProxy().TargetVersion,
		"uptime":         time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleGetSystemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetSystemInfo())
}
