package core

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// originMiddleware validates the Origin header against the allow-list and
// the configured permissive modes. A missing Origin is accepted: local
// tooling and same-origin requests do not send one. Mismatches get 403,
// closing the DNS-rebinding hole.
func (s *Server) originMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.Origin.AllowedOrigins))
	for _, o := range s.cfg.Origin.AllowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if s.originAllowed(allowed, origin) {
			c.Next()
			return
		}

		s.logger.Warn("rejected request from disallowed origin",
			zap.String("origin", origin),
			zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "origin not allowed",
		})
	}
}

func (s *Server) originAllowed(allowed map[string]bool, origin string) bool {
	if allowed[strings.TrimRight(origin, "/")] {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if s.cfg.Origin.AllowNgrok {
		host := u.Hostname()
		if strings.HasSuffix(host, ".ngrok.io") || strings.HasSuffix(host, ".ngrok-free.app") || strings.HasSuffix(host, ".ngrok.app") {
			return true
		}
	}
	if s.cfg.Origin.AllowHTTPS && u.Scheme == "https" {
		return true
	}
	return false
}
