package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pocketpay/transferd/internal/auth"
	"github.com/pocketpay/transferd/internal/orchestrator"
	"github.com/pocketpay/transferd/internal/transfers"
)

type Router struct {
	apiKey string
	orch   *orchestrator.Service
}

func NewServer(apiKey string, orch *orchestrator.Service) *Router {
	return &Router{
		apiKey,
		orch,
	}
}

// Start configures the middleware and routes and listens on the given port.
func (r *Router) Start(port int) error {
	cr := chi.NewRouter()

	a := auth.New(r.apiKey)

	// configure middleware
	cr.Use(middleware.RequestID)
	cr.Use(middleware.Logger)

	// configure custom middleware
	cr.Use(HealthMiddleware)
	cr.Use(RequestSizeLimitMiddleware(1 << 20)) // Limit request bodies to 1MB
	cr.Use(a.AuthMiddleware)
	cr.Use(middleware.Compress(9))

	// instantiate handlers
	t := transfers.NewService(r.orch)

	// configure routes
	cr.Route("/transfers", func(cr chi.Router) {
		cr.Post("/", t.Create)
		cr.Get("/{id}", t.Get)
		cr.Post("/{id}/accelerate", t.Accelerate)
		cr.Delete("/{id}", t.Cancel)
	})

	cr.Route("/bridges", func(cr chi.Router) {
		cr.Post("/", t.CreateBridge)
		cr.Get("/{id}", t.GetBridge)
		cr.Delete("/{id}", t.CancelBridge)
	})

	return http.ListenAndServe(fmt.Sprintf(":%v", port), cr)
}
