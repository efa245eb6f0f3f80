package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/CodeMC/bot/internal/components/api"
	"github.com/CodeMC/bot/internal/frameworks/service"
	httpmw "github.com/CodeMC/bot/internal/platform/http/middleware"
)

// mountService mounts a service and tracks it for lifecycle management.
func (s *Server) mountService(r chi.Router, svc service.Service) {
	if svc == nil {
		return
	}

	var handler http.Handler = svc.Handler()
	if prefix := svc.Prefix(); prefix != "" {
		r.Mount("/"+prefix, handler)
	} else {
		r.Mount("/", handler)
	}

	s.mountedServices = append(s.mountedServices, svc)
}

// setupRoutes creates the chi router with all services mounted.
func (s *Server) setupRoutes(services []service.Service) chi.Router {
	r := chi.NewRouter()

	// Always-on transport middleware (order is invariant):
	// RealIP -> RequestID -> request-scoped logger -> access log -> recoverer
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(s.logger))
	r.Use(httpmw.AccessLogMiddleware(s.logger))
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "no route for "+r.URL.Path)
	})

	for _, svc := range services {
		s.mountService(r, svc)
	}
	return r
}
