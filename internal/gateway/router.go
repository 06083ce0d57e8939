// Package gateway is the HTTP boundary: the REST API over the chat and
// account services and the browser websocket live channel.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mediconnect/consult-relay/internal/account"
	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
	"github.com/mediconnect/consult-relay/internal/middleware"
	"github.com/mediconnect/consult-relay/internal/video"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	chat     *chat.Service
	accounts *account.Service
	video    *video.Namer
	limiter  *middleware.LimiterStore
	origins  []string
	health   map[string]HealthCheck
	upgrader websocket.Upgrader
}

type Options struct {
	Chat           *chat.Service
	Accounts       *account.Service
	Video          *video.Namer
	Limiter        *middleware.LimiterStore
	AllowedOrigins []string
	Health         map[string]HealthCheck
}

func New(opts Options) *Server {
	s := &Server{
		chat:     opts.Chat,
		accounts: opts.Accounts,
		video:    opts.Video,
		limiter:  opts.Limiter,
		origins:  opts.AllowedOrigins,
		health:   opts.Health,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	corsCfg := cors.Config{
		AllowOrigins:     s.origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if s.allowAnyOrigin() {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth())

	api := r.Group("/api/v1")
	authRoutes := api.Group("/auth")
	if s.limiter != nil {
		authRoutes.Use(middleware.RateLimitGin(s.limiter))
	}
	authRoutes.POST("/register", s.handleRegister())
	authRoutes.POST("/login", s.handleLogin())

	api.GET("/ws", s.handleWebsocket())

	authorized := api.Group("/")
	authorized.Use(s.authorize())
	authorized.POST("/chats", s.handleCreateOrGetConversation())
	authorized.GET("/chats", s.handleListConversations())
	authorized.GET("/chats/:id/messages", s.handleListMessages())
	authorized.POST("/chats/:id/messages", s.handleSendMessage())
	authorized.POST("/chats/:id/read", s.handleMarkRead())
	authorized.GET("/presence/:userId", s.handlePresence())
	authorized.GET("/appointments/:id/video-room", s.handleVideoRoom())

	return r
}

func (s *Server) allowAnyOrigin() bool {
	if len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAnyOrigin() {
		return true
	}
	for _, o := range s.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Method: c.Request.Method + " " + c.FullPath(), Component: "gateway"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		slog.InfoContext(ctx, "http request",
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{}
		healthy := true
		for name, check := range s.health {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": map[bool]string{true: "ok", false: "degraded"}[healthy], "checks": checks})
	}
}
