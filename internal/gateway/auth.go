package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
)

const identityKey = "identity"

// authorize rejects requests without a valid bearer token.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.chat.Authenticate(bearerToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{IdentityID: id.ID}))
		c.Next()
	}
}

func identityFrom(c *gin.Context) chat.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(chat.Identity)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer"))
}
