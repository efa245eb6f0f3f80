package interactions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/ed25519"

	"github.com/CodeMC/bot/internal/components/api"
	"github.com/CodeMC/bot/internal/frameworks/service"
	"github.com/CodeMC/bot/internal/platform/cache"
)

// Service mounts the interaction endpoint and the health check.
type Service struct {
	router  chi.Router
	handler *Handler
	dedup   cache.Cache
}

// NewService builds the routes. Close waits for in-flight work and then
// closes dedup.
func NewService(h *Handler, publicKey ed25519.PublicKey, dedup cache.Cache, log *slog.Logger) (*Service, error) {
	if h == nil || len(publicKey) != ed25519.PublicKeySize {
		return nil, errors.New("interactions: handler and public key are required")
	}

	r := chi.NewRouter()
	r.Get("/healthz", api.HealthHandler)
	r.With(VerifySignature(publicKey, DefaultMaxBodyBytes, log)).Post("/interactions", h.HandleInteraction)

	return &Service{router: r, handler: h, dedup: dedup}, nil
}

func (s *Service) Handler() http.Handler { return s.router }

func (s *Service) Prefix() string { return "" }

func (s *Service) Unprotected() []string { return []string{"/healthz", "/interactions"} }

func (s *Service) Close() error {
	s.handler.Wait()
	if s.dedup != nil {
		return s.dedup.Close()
	}
	return nil
}

var _ service.Service = (*Service)(nil)
