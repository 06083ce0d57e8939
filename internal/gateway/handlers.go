package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mediconnect/consult-relay/internal/account"
	"github.com/mediconnect/consult-relay/internal/chat"
)

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case chat.IsAuth(err), errors.Is(err, account.ErrInvalidCredentials):
		code, msg = http.StatusUnauthorized, err.Error()
	case chat.IsForbidden(err):
		code, msg = http.StatusForbidden, err.Error()
	case chat.IsNotFound(err):
		code, msg = http.StatusNotFound, err.Error()
	case chat.IsValidation(err), chat.IsProtocol(err):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, account.ErrEmailTaken):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, context.Canceled):
		code, msg = 499, "request canceled"
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req account.RegisterRequest
		if !bindJSON(c, &req) {
			return
		}
		sess, err := s.accounts.Register(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req account.LoginRequest
		if !bindJSON(c, &req) {
			return
		}
		sess, err := s.accounts.Login(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func (s *Server) handleCreateOrGetConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chat.OpenRequest
		if !bindJSON(c, &req) {
			return
		}
		conv, err := s.chat.CreateOrGetConversation(c.Request.Context(), identityFrom(c), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

func (s *Server) handleListConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		sums, err := s.chat.ListConversations(c.Request.Context(), identityFrom(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": sums})
	}
}

func (s *Server) handleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := s.chat.ListMessages(c.Request.Context(), identityFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

type sendMessageBody struct {
	Body string `json:"body"`
}

func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageBody
		if !bindJSON(c, &req) {
			return
		}
		msg, err := s.chat.SendMessage(c.Request.Context(), identityFrom(c), c.Param("id"), req.Body, "")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		receipt, err := s.chat.MarkRead(c.Request.Context(), identityFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

func (s *Server) handlePresence() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		c.JSON(http.StatusOK, gin.H{"userId": userID, "online": s.chat.Online(c.Request.Context(), userID)})
	}
}

func (s *Server) handleVideoRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("displayName")
		if name == "" {
			name = identityFrom(c).ID
		}
		room, err := s.video.RoomFor(c.Param("id"), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, room)
	}
}
