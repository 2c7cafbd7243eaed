package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mediconnect-backend/pkg/env"
)

// RateLimitConfig holds rate limit configuration for different endpoints
type RateLimitConfig struct {
	Endpoint string
	Requests int
	Window   time.Duration
}

// RateLimitConfigManager manages rate limit configurations
type RateLimitConfigManager struct {
	configs map[string]RateLimitConfig
}

// NewRateLimitConfigManager creates a new rate limit configuration manager
// Rate limits can be overridden via environment variables:
// - RATELIMIT_MESSAGES_SEND: Requests per minute for message sends (default: 60)
// - RATELIMIT_CONVERSATIONS_CREATE: Requests per minute for conversation creation (default: 20)
// - RATELIMIT_SESSIONS_CREATE: Requests per minute for session creation (default: 10)
// - RATELIMIT_ATTACHMENTS_PRESIGN: Requests per minute for upload presigning (default: 20)
// - RATELIMIT_DEFAULT: Fallback for every other endpoint (default: 100)
func NewRateLimitConfigManager() *RateLimitConfigManager {
	return &RateLimitConfigManager{
		configs: map[string]RateLimitConfig{
			// Conversation endpoints
			"/v1/conversations": {
				Requests: env.GetInt("RATELIMIT_CONVERSATIONS_CREATE", 20),
				Window:   time.Minute,
			},
			"/v1/conversations/:conversation_id/participants": {
				Requests: env.GetInt("RATELIMIT_PARTICIPANTS", 30),
				Window:   time.Minute,
			},

			// Message endpoints
			"/v1/conversations/:conversation_id/messages": {
				Requests: env.GetInt("RATELIMIT_MESSAGES_SEND", 60),
				Window:   time.Minute,
			},

			// Presence is chatty by design
			"/v1/conversations/:conversation_id/presence": {
				Requests: env.GetInt("RATELIMIT_PRESENCE", 120),
				Window:   time.Minute,
			},
			"/v1/conversations/:conversation_id/presence/heartbeat": {
				Requests: env.GetInt("RATELIMIT_HEARTBEAT", 240),
				Window:   time.Minute,
			},

			// Escalation endpoints - strict limits
			"/v1/escalation/rules": {
				Requests: env.GetInt("RATELIMIT_ESCALATION_RULES", 10),
				Window:   time.Minute,
			},
			"/v1/escalations/:event_id/resolve": {
				Requests: env.GetInt("RATELIMIT_ESCALATION_RESOLVE", 30),
				Window:   time.Minute,
			},

			// Attachment endpoints
			"/v1/messages/:message_id/attachments": {
				Requests: env.GetInt("RATELIMIT_ATTACHMENTS_PRESIGN", 20),
				Window:   time.Minute,
			},
			"/v1/attachments/:attachment_id/transcriptions": {
				Requests: env.GetInt("RATELIMIT_TRANSCRIPTIONS", 10),
				Window:   time.Minute,
			},

			// Session endpoints
			"/v1/sessions": {
				Requests: env.GetInt("RATELIMIT_SESSIONS_CREATE", 10),
				Window:   time.Minute,
			},
			"/v1/sessions/:session_id/join": {
				Requests: env.GetInt("RATELIMIT_SESSIONS_JOIN", 20),
				Window:   time.Minute,
			},

			// Push token endpoints
			"/v1/push/tokens": {
				Requests: env.GetInt("RATELIMIT_PUSH_TOKENS", 10),
				Window:   time.Minute,
			},

			// Template endpoints
			"/v1/templates": {
				Requests: env.GetInt("RATELIMIT_TEMPLATES", 30),
				Window:   time.Minute,
			},
		},
	}
}

// GetConfig returns rate limit configuration for a specific endpoint
func (m *RateLimitConfigManager) GetConfig(endpoint string) RateLimitConfig {
	if config, exists := m.configs[endpoint]; exists {
		return config
	}
	// Default rate limit
	return RateLimitConfig{
		Requests: 100,
		Window:   time.Minute,
	}
}

// GetConfigForPath returns rate limit configuration based on path pattern matching
func (m *RateLimitConfigManager) GetConfigForPath(path string) RateLimitConfig {
	// Try exact match first
	if config, exists := m.configs[path]; exists {
		return config
	}

	// Try prefix match for parameterized paths
	for pattern, config := range m.configs {
		if isPathMatch(path, pattern) {
			return config
		}
	}

	// Default rate limit (configurable via RATELIMIT_DEFAULT)
	return RateLimitConfig{
		Requests: env.GetInt("RATELIMIT_DEFAULT", 100),
		Window:   time.Minute,
	}
}

// isPathMatch checks if a path matches a pattern (e.g., /v1/sessions/:session_id matches /v1/sessions/123)
func isPathMatch(path, pattern string) bool {
	pathParts := splitPath(path)
	patternParts := splitPath(pattern)

	if len(patternParts) == 0 || len(pathParts) != len(patternParts) {
		return false
	}

	for i, part := range patternParts {
		if len(part) > 0 && part[0] != ':' {
			if pathParts[i] != part {
				return false
			}
		}
	}

	return true
}

// splitPath splits a path into parts
func splitPath(path string) []string {
	parts := []string{}
	current := ""
	for _, ch := range path {
		if ch == '/' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(ch)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// AdvancedRateLimiter is an enhanced rate limiter with per-endpoint configuration
type AdvancedRateLimiter struct {
	redisClient *redis.Client
	configMgr   *RateLimitConfigManager
}

// NewAdvancedRateLimiter creates a new advanced rate limiter
func NewAdvancedRateLimiter(redisClient *redis.Client) *AdvancedRateLimiter {
	return &AdvancedRateLimiter{
		redisClient: redisClient,
		configMgr:   NewRateLimitConfigManager(),
	}
}

// Middleware returns a Gin middleware for advanced rate limiting
func (rl *AdvancedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get client IP
		clientIP := c.ClientIP()
		if clientIP == "" {
			c.JSON(500, gin.H{"error": "Unable to determine client IP"})
			c.Abort()
			return
		}

		// Rate limit per user when authenticated, per IP otherwise
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			if id, ok := userID.(uuid.UUID); ok {
				identifier = "user:" + id.String()
			}
		}
		if identifier == "" {
			identifier = "ip:" + clientIP
		}

		// Get rate limit config for this endpoint
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		config := rl.configMgr.GetConfigForPath(path)

		// Check rate limit
		allowed, remaining, resetTime, err := rl.checkRateLimit(c, identifier, config.Requests, config.Window)
		if err != nil {
			c.JSON(500, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
		c.Header("X-RateLimit-Window", config.Window.String())

		if !allowed {
			c.JSON(429, gin.H{
				"error":       "Rate limit exceeded",
				"limit":       config.Requests,
				"remaining":   remaining,
				"reset_at":    resetTime,
				"retry_after": config.Window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit checks if request is within rate limits using Redis sliding window
func (rl *AdvancedRateLimiter) checkRateLimit(c *gin.Context, identifier string, requests int, window time.Duration) (bool, int, int64, error) {
	ctx := c.Request.Context()
	now := time.Now().Unix()
	windowStart := now - int64(window.Seconds())

	// Redis key for rate limiting
	key := fmt.Sprintf("ratelimit:%s", identifier)
	windowKey := fmt.Sprintf("ratelimit:%s:window", identifier)

	// Use Redis pipeline for atomic operations
	pipe := rl.redisClient.Pipeline()

	// Get current window start
	pipe.Get(ctx, windowKey)

	// Increment request count
	pipe.Incr(ctx, key)

	// Set expiration on key
	pipe.Expire(ctx, key, window)

	// Execute pipeline
	results, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return false, 0, 0, fmt.Errorf("failed to execute Redis pipeline: %w", err)
	}

	// Parse results
	lastWindowStartBytes := results[0].(*redis.StringCmd).Val()
	count, err := results[1].(*redis.IntCmd).Result()
	if err != nil && err != redis.Nil {
		return false, 0, 0, fmt.Errorf("failed to get request count: %w", err)
	}

	// Check if we need to reset window
	lastWindowStart, parseErr := strconv.ParseInt(lastWindowStartBytes, 10, 64)
	if lastWindowStart < windowStart || parseErr != nil {
		// New window, reset count
		if err := rl.redisClient.Set(ctx, windowKey, windowStart, window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set window start: %w", err)
		}
		if err := rl.redisClient.Set(ctx, key, 1, window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to reset request count: %w", err)
		}
		count = int64(1)
		lastWindowStart = windowStart
	}

	remaining := requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	allowed := int(count) <= requests
	resetTime := lastWindowStart + int64(window.Seconds())

	return allowed, remaining, resetTime, nil
}
