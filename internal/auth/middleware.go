package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/auth/session"
	obscontext "github.com/waslahq/wasla/internal/observability/context"
)

// ContextSessionKey is the gin context key holding the authenticated session.
const ContextSessionKey = "auth.session"

// Required rejects requests without a valid session cookie.
func Required(manager *session.Manager, store domain.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := manager.ReadToken(c.Request)
		if token == "" {
			c.Error(domain.ErrUnauthorized)
			c.Abort()
			return
		}

		sess, err := store.Get(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				c.Error(domain.ErrUnauthorized)
			} else {
				c.Error(err)
			}
			c.Abort()
			return
		}

		// A usable session carries both identity halves; tokens written
		// without an email cannot drive checkout and are rejected outright.
		if sess == nil || strings.TrimSpace(sess.Email) == "" {
			c.Error(domain.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, sess)
		ctx := obscontext.WithUserID(c.Request.Context(), sess.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SessionFrom returns the session attached by Required, or nil.
func SessionFrom(c *gin.Context) *domain.Session {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, ok := v.(*domain.Session)
	if !ok {
		return nil
	}
	return sess
}
