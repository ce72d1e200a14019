package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/checkout"
	gatewaydomain "github.com/waslahq/wasla/internal/gateway/domain"
	paymentdomain "github.com/waslahq/wasla/internal/payment/domain"
	subscriptiondomain "github.com/waslahq/wasla/internal/subscription/domain"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type     string       `json:"type"`
	Message  string       `json:"message"`
	Provider string       `json:"provider,omitempty"`
	Errors   []fieldError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware turns errors attached to the context into one JSON
// error response after the handler chain runs.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var verrs checkout.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldError{Field: fe.Field, Message: fe.Message})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fields,
		}
	}

	var notConfigured checkout.NotConfiguredError
	if errors.As(err, &notConfigured) {
		return http.StatusBadRequest, errorPayload{
			Type:     "gateway_not_configured",
			Message:  "payment provider is not configured",
			Provider: notConfigured.Provider,
		}
	}

	switch {
	case errors.Is(err, authdomain.ErrUnauthorized),
		errors.Is(err, authdomain.ErrSessionNotFound):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, gatewaydomain.ErrProviderNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "unknown payment provider",
		}
	case errors.Is(err, gatewaydomain.ErrNotConfigured):
		return http.StatusBadRequest, errorPayload{
			Type:    "gateway_not_configured",
			Message: "payment provider is not configured",
		}
	case errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent),
		errors.Is(err, gatewaydomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidCursor),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog labels the request log line without leaking detail.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, err.Error()
	}
	return payload.Type, payload.Message
}
