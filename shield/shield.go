// Package shield provides the HTTP middleware in front of the docpeek
// surfaces: security headers, body limits, request tracing, rate limiting,
// flash messages and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger, limiter) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// FlashKey is the context key for flash messages.
	FlashKey contextKey = "shield_flash"
)

// FlashMessage represents a one-time notification shown to the user.
type FlashMessage struct {
	Type    string // "success" or "error"
	Message string
}

// GetFlash retrieves the flash message from the request context.
func GetFlash(ctx context.Context) *FlashMessage {
	v, _ := ctx.Value(FlashKey).(*FlashMessage)
	return v
}

// DefaultStack returns the middleware stack for the surface server,
// ordered HeadToGet → SecurityHeaders → MaxFormBody → Trace → RateLimiter
// → Flash. rl may be nil.
func DefaultStack(logger *slog.Logger, rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		Trace(logger),
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return append(stack, Flash)
}
