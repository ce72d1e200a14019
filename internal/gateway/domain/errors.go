package domain

import "errors"

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrNotConfigured    = errors.New("gateway_not_configured")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrProviderAPI      = errors.New("provider_api_error")

	// ErrUnsupportedOperation marks contract operations a processor has no
	// native equivalent for (e.g. one-shot processors without subscription
	// APIs); callers fall back to local state changes.
	ErrUnsupportedOperation = errors.New("unsupported_operation")
)
