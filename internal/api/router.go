package api

import (
	"github.com/gorilla/mux"

	"github.com/exchron/exchron-engine/internal/api/handlers"
	"github.com/exchron/exchron-engine/internal/api/middleware"
	"github.com/exchron/exchron-engine/internal/telemetry"
)

// Router wraps mux.Router to add more functionality
type Router struct {
	*mux.Router
	middleware []mux.MiddlewareFunc
	endpoint   string
}

// NewRouter creates and configures a new router with all dependencies
func NewRouter(
	sessionHandler *handlers.SessionHandler,
	endpoint string,
) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		middleware: []mux.MiddlewareFunc{
			middleware.Logging,
			telemetry.MetricsMiddleware,
		},
		endpoint: endpoint,
	}

	r.setup()
	r.registerRoutes(sessionHandler)

	return r
}

// setup configures the base router with middleware and common settings
func (r *Router) setup() {
	for _, m := range r.middleware {
		r.Use(m)
	}
}

// registerRoutes registers all application routes
func (r *Router) registerRoutes(
	sessionHandler *handlers.SessionHandler,
) {
	r.HandleFunc("/health", sessionHandler.Health).Methods("GET")
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods("GET")

	api := r.PathPrefix(r.endpoint).Subrouter()
	sessions := api.PathPrefix("/sessions").Subrouter()

	sessions.HandleFunc("", sessionHandler.CreateSession).Methods("POST")
	sessions.HandleFunc("", sessionHandler.ListSessions).Methods("GET")
	sessions.HandleFunc("/{id}", sessionHandler.GetSession).Methods("GET")
	sessions.HandleFunc("/{id}", sessionHandler.DeleteSession).Methods("DELETE")
	sessions.HandleFunc("/{id}/train", sessionHandler.RetrainSession).Methods("POST")
	sessions.HandleFunc("/{id}/cancel", sessionHandler.CancelSession).Methods("POST")
	sessions.HandleFunc("/{id}/predict", sessionHandler.Predict).Methods("POST")
	sessions.HandleFunc("/{id}/ws", sessionHandler.StreamProgress).Methods("GET")
}

// AddMiddleware adds a new middleware to the router
func (r *Router) AddMiddleware(middleware mux.MiddlewareFunc) {
	r.Use(middleware)
}
