package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	paymentdomain "github.com/waslahq/wasla/internal/payment/domain"
	"github.com/waslahq/wasla/internal/webhook"
)

// HandleWebhook ingests one provider notification. The raw body is read
// before any parsing so signature verification sees the exact bytes sent.
// Replays and events that cannot be tied to a user are acknowledged with 200
// so the provider stops retrying.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sig := gatewaydomain.SignatureMaterial{
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, sig)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) ||
			errors.Is(err, webhook.ErrUnknownCorrelation) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
