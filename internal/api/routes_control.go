package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/db"
	"github.com/viabridge-project/viabridge/internal/session"
)

type loginRequest struct {
	Account string `json:"account" binding:"required"`
	Target  string `json:"target" binding:"required"`
}

type tokenRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// handleLogin runs one login through the proxy and reports how it ended.
// The request blocks until the login phase is over.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h := s.proxy.Load()
	if h == nil || !h.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "proxy is not running"})
		return
	}
	if s.deps.Sessions == nil || s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sessions not available"})
		return
	}

	target, err := address.ParseServerAddress(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := s.deps.Accounts.Account(req.Account)
	if errors.Is(err, db.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := s.deps.Sessions.Login(c.Request.Context(), session.Request{
		Account: account,
		Target:  target,
		Bind:    h.BindAddress(),
		Version: h.Version(),
	})
	if err != nil {
		log.Warn().Err(err).Str("account", req.Account).Str("target", req.Target).Msg("API: login failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  err.Error(),
			"result": res,
		})
		return
	}

	log.Info().Str("account", req.Account).Str("target", req.Target).Msg("API: login finished")
	c.JSON(http.StatusOK, gin.H{
		"status": "logged_in",
		"result": res,
	})
}

func (s *Server) handleGetAccounts(c *gin.Context) {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store not available"})
		return
	}
	accounts, err := s.deps.Accounts.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// handleSetToken replaces a stored token. A join waiting on a refresh picks
// it up on its next attempt.
func (s *Server) handleSetToken(c *gin.Context) {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store not available"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := c.Param("username")
	if err := s.deps.Accounts.UpdateToken(username, req.AccessToken); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, db.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("username", username).Msg("API: access token updated")
	c.JSON(http.StatusOK, gin.H{"status": "updated", "username": username})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store not available"})
		return
	}

	username := c.Param("username")
	if err := s.deps.Accounts.Delete(username); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, db.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "username": username})
}
