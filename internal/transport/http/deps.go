package http

import (
	"net/http"

	"github.com/go-otp-accounts/internal/application/auth"
	"github.com/go-otp-accounts/internal/transport/http/middleware"
)

// MetricsSink is the minimal interface the router requires from the metrics recorder.
type MetricsSink interface {
	middleware.RequestObserver
	RateLimited(route string)
	Handler() http.Handler
}

// Deps holds everything the router wires into handlers.
type Deps struct {
	Auth auth.Service
	// TokenVerifier enables GET /auth/me when non-nil.
	TokenVerifier middleware.TokenVerifier
	// Metrics enables request instrumentation and GET /metrics when non-nil.
	Metrics MetricsSink
}
