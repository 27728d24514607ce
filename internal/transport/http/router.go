package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-accounts/internal/config"
	"github.com/go-otp-accounts/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-accounts/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. The returned close
// func stops background work owned by the router.
func NewRouter(cfg *config.Config, deps *Deps) (http.Handler, func()) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(appmiddleware.Metrics(deps.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	if deps.Metrics != nil {
		sensitiveRL.OnLimited(func(req *http.Request) { deps.Metrics.RateLimited(req.URL.Path) })
	}

	healthH := handler.NewHealthHandler(cfg.AppName)
	authH := handler.NewAuthHandler(deps.Auth)

	r.Get("/", healthH.Root)
	r.Get("/health-check/{action}", healthH.Ping)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(sensitiveRL.Limit)

			r.Post("/register", authH.Register)
			r.Post("/verify-otp", authH.VerifyOTP)
			r.Post("/login", authH.Login)
			r.Post("/resend-otp", authH.ResendOTP)
		})

		if deps.TokenVerifier != nil {
			r.With(appmiddleware.Auth(deps.TokenVerifier)).Get("/me", authH.Me)
		}
	})

	return r, sensitiveRL.Close
}
