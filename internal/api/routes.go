package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/store"
	"github.com/valobridge-project/valobridge/internal/util"
)

// Version is the bridge version reported by the public info endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// handlePing is a simple liveness check.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleGetBridgeInfo returns basic bridge identity and uptime.
func (s *Server) handleGetBridgeInfo(c *gin.Context) {
	hostUptime, _ := util.HostUptime()
	c.JSON(http.StatusOK, gin.H{
		"name":                "valobridge",
		"version":             Version,
		"uptime_seconds":      int(time.Since(startTime).Seconds()),
		"host_uptime_seconds": hostUptime,
	})
}

// handleGetSessions returns the state of every chat session.
func (s *Server) handleGetSessions(c *gin.Context) {
	sessions := make([]gin.H, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active := 0
		if tr := s.trackers[sess.Account()]; tr != nil {
			active = tr.Len()
		}
		sessions = append(sessions, gin.H{
			"account":        sess.Account(),
			"connected":      sess.Connected(),
			"active_matches": active,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetMatches returns every live match across all sessions.
func (s *Server) handleGetMatches(c *gin.Context) {
	matches := make([]gin.H, 0)
	for _, sess := range s.sessions {
		tr := s.trackers[sess.Account()]
		if tr == nil {
			continue
		}
		for _, m := range tr.Active() {
			matches = append(matches, gin.H{
				"account":     sess.Account(),
				"player_id":   m.PlayerID,
				"game_name":   m.GameName,
				"tag_line":    m.TagLine,
				"map":         m.MapName,
				"queue":       m.QueueID,
				"ally_score":  m.AllyScore,
				"enemy_score": m.EnemyScore,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"total":   len(matches),
	})
}

// handleGetLinks returns all account links.
func (s *Server) handleGetLinks(c *gin.Context) {
	links, err := s.links.ListLinks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(links))
	for _, l := range links {
		out = append(out, gin.H{
			"user_id":    l.UserID,
			"remote_id":  l.RemoteID,
			"channel_id": l.ChannelID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"links": out,
		"total": len(out),
	})
}

// handleGetSystem returns host CPU and memory usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	cpuUsage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent":    cpuUsage,
		"memory_used_mb": mem.Used,
		"memory_percent": mem.UsedPercent,
	})
}

type redeemRequest struct {
	Code   int    `json:"code" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// handleRedeemCode redeems an OTP code, linking the Discord user to the
// Riot player the code was issued for.
func (s *Server) handleRedeemCode(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and user_id are required"})
		return
	}

	remoteID, err := s.links.Redeem(req.Code, req.UserID)
	switch {
	case errors.Is(err, store.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "code not found or already used"})
		return
	case errors.Is(err, store.ErrAlreadyLinked):
		c.JSON(http.StatusConflict, gin.H{"error": "account is already linked"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventLinkRedeemed,
		Source: "api",
		Payload: events.LinkPayload{
			UserID:   req.UserID,
			RemoteID: remoteID,
		},
	})

	log.Info().Str("user_id", req.UserID).Str("remote_id", remoteID).Msg("link code redeemed")
	c.JSON(http.StatusOK, gin.H{
		"user_id":   req.UserID,
		"remote_id": remoteID,
	})
}

type channelRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ChannelID string `json:"channel_id" binding:"required"`
}

// handleSetChannel sets the report channel for a linked user.
func (s *Server) handleSetChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and channel_id are required"})
		return
	}

	if err := s.links.SetChannel(req.UserID, req.ChannelID); err != nil {
		if errors.Is(err, store.ErrNotLinked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user has no linked account"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    req.UserID,
		"channel_id": req.ChannelID,
	})
}

// handleDeleteLink removes an account link and its report channel.
func (s *Server) handleDeleteLink(c *gin.Context) {
	remoteID := c.Param("remote_id")
	if err := s.links.DeleteLink(remoteID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"remote_id": remoteID})
}
