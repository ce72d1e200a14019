package checkout

import (
	"fmt"
	"strings"
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates field errors so the caller gets all of them in
// one response.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid_request: " + strings.Join(parts, "; ")
}

// NotConfiguredError names the provider a checkout resolved to when its
// credentials are missing.
type NotConfiguredError struct {
	Provider string
}

func (e NotConfiguredError) Error() string {
	return fmt.Sprintf("gateway_not_configured: %s", e.Provider)
}
