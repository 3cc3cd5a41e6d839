// Package api implements the REST API server for Valobridge, exposing
// bridge status and account-link management with Discord OAuth2
// authentication.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/config"
	"github.com/valobridge-project/valobridge/internal/discord"
)

// AuthMiddleware handles Discord OAuth2 token verification.
type AuthMiddleware struct {
	discord *discord.Connector
	cfg     *config.Config
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(dc *discord.Connector, cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{
		discord: dc,
		cfg:     cfg,
	}
}

// RequireAuth returns a Gin middleware that verifies Discord OAuth2 tokens.
// When auth_disabled is true in config, all requests are treated as a local admin.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bypass auth when disabled (local mode)
		if am.cfg.GetApplicationData().Security.AuthDisabled {
			c.Set("discord_user_id", "local-admin")
			c.Set("discord_username", "Local Admin")
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			c.Abort()
			return
		}

		// Verify token with Discord API (cached for 20 minutes)
		user, err := am.discord.VerifyToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("discord_user_id", user.ID)
		c.Set("discord_username", user.Username)

		c.Next()
	}
}

// RequireOwner returns a middleware that restricts an endpoint to the
// configured owner account. Requests from other users get 403.
func (am *AuthMiddleware) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		appData := am.cfg.GetApplicationData()
		if appData.Security.AuthDisabled || appData.Discord.OwnerID == "" {
			c.Next()
			return
		}

		userID, exists := c.Get("discord_user_id")
		if !exists || userID.(string) != appData.Discord.OwnerID {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "owner access required",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    int
	burst   int
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with the specified requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    rps,
		burst:   rps * 2, // Allow burst of 2x rate
	}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()

		rl.mu.Lock()
		bucket, exists := rl.clients[clientIP]
		if !exists {
			bucket = &clientBucket{
				tokens:    float64(rl.burst),
				lastCheck: time.Now(),
			}
			rl.clients[clientIP] = bucket
		}

		now := time.Now()
		elapsed := now.Sub(bucket.lastCheck).Seconds()
		bucket.tokens += elapsed * float64(rl.rate)
		if bucket.tokens > float64(rl.burst) {
			bucket.tokens = float64(rl.burst)
		}
		bucket.lastCheck = now

		if bucket.tokens < 1 {
			rl.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		bucket.tokens--
		rl.mu.Unlock()

		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Server", "Valobridge")
		c.Header("X-Frame-Options", "DENY")

		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
