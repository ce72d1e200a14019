package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/waslahq/wasla/internal/auth"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/checkout"
)

type checkoutResponse struct {
	Success      bool       `json:"success"`
	Provider     string     `json:"provider"`
	SessionID    string     `json:"sessionId,omitempty"`
	CheckoutURL  string     `json:"checkoutUrl,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	KioskBillRef string     `json:"kioskBillRef,omitempty"`
	KioskExpiry  *time.Time `json:"kioskExpiry,omitempty"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	sess := auth.SessionFrom(c)
	if sess == nil {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.checkoutSvc.CreateSession(c.Request.Context(), sess.UserID, sess.Email, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, checkoutResponse{
		Success:      true,
		Provider:     result.Provider,
		SessionID:    result.SessionID,
		CheckoutURL:  result.CheckoutURL,
		ExpiresAt:    result.ExpiresAt,
		KioskBillRef: result.KioskBillRef,
		KioskExpiry:  result.KioskExpiry,
	})
}

func (s *Server) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.checkoutSvc.Providers()})
}
