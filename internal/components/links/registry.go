// Package links is the identity link registry: the durable mapping from an
// external service username to the chat identity that owns it.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CodeMC/bot/internal/platform/logutil"
	"github.com/CodeMC/bot/internal/platform/store"
)

var (
	// ErrLinkExists is returned by Add when the username is already linked.
	// Callers are expected to branch on Get first.
	ErrLinkExists = errors.New("username already linked")

	// ErrLinkNotFound is returned by Update when the username is not linked.
	ErrLinkNotFound = errors.New("username not linked")
)

// Registry wraps a store.LinkStore with the registry contract.
type Registry struct {
	store  store.LinkStore
	logger *slog.Logger
}

// NewRegistry creates a registry over the given link store.
func NewRegistry(s store.LinkStore, logger *slog.Logger) *Registry {
	logger = logutil.NoopIfNil(logger)
	return &Registry{store: s, logger: logger}
}

// Add links username to requesterID.
func (r *Registry) Add(ctx context.Context, username, requesterID string) error {
	err := r.store.CreateLink(ctx, &store.IdentityLink{Username: username, RequesterID: requesterID})
	if errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrLinkExists, username)
	}
	if err != nil {
		return fmt.Errorf("add link %s: %w", username, err)
	}
	r.logger.Info("identity link added", "username", username, "requester_id", requesterID)
	return nil
}

// AddIfAbsent links username to requesterID unless a link already exists.
// It reports whether a new link was written; an existing link, even to a
// different requester, is left untouched.
func (r *Registry) AddIfAbsent(ctx context.Context, username, requesterID string) (bool, error) {
	err := r.Add(ctx, username, requesterID)
	if errors.Is(err, ErrLinkExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update re-points an existing link at requesterID.
func (r *Registry) Update(ctx context.Context, username, requesterID string) error {
	err := r.store.UpdateLink(ctx, &store.IdentityLink{Username: username, RequesterID: requesterID})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("update link %s: %w", username, err)
	}
	r.logger.Info("identity link updated", "username", username, "requester_id", requesterID)
	return nil
}

// Set adds the link or re-points an existing one.
func (r *Registry) Set(ctx context.Context, username, requesterID string) error {
	existing, err := r.Get(ctx, username)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.Add(ctx, username, requesterID)
	}
	if existing.RequesterID == requesterID {
		return nil
	}
	return r.Update(ctx, username, requesterID)
}

// Remove deletes the link for username and returns the number of links
// removed (0 or 1). Removing an absent link is not an error.
func (r *Registry) Remove(ctx context.Context, username string) (int, error) {
	n, err := r.store.DeleteLink(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("remove link %s: %w", username, err)
	}
	if n > 0 {
		r.logger.Info("identity link removed", "username", username)
	}
	return int(n), nil
}

// Get returns the link for username, or nil when none exists.
func (r *Registry) Get(ctx context.Context, username string) (*store.IdentityLink, error) {
	link, err := r.store.GetLink(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", username, err)
	}
	return link, nil
}

// ListAll returns every link.
func (r *Registry) ListAll(ctx context.Context) ([]*store.IdentityLink, error) {
	return r.store.ListLinks(ctx)
}

// ListByRequester returns the links owned by requesterID.
func (r *Registry) ListByRequester(ctx context.Context, requesterID string) ([]*store.IdentityLink, error) {
	return r.store.ListLinksByRequester(ctx, requesterID)
}
