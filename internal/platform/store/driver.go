// Package store provides persistence primitives and driver abstractions.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (json, sqlite).
	Name() string
}

// LinkStore persists identity links keyed by external username.
// Mutations on a single username must be linearizable: the store is the
// only arbiter of the username -> requester mapping.
type LinkStore interface {
	// CreateLink inserts a new link. Returns ErrAlreadyExists when the
	// username is already linked.
	CreateLink(ctx context.Context, link *IdentityLink) error

	// UpdateLink replaces the requester of an existing link. Returns
	// ErrNotFound when the username is not linked.
	UpdateLink(ctx context.Context, link *IdentityLink) error

	// DeleteLink removes the link for username and reports how many rows
	// were removed (0 or 1). Deleting an absent key is not an error.
	DeleteLink(ctx context.Context, username string) (int64, error)

	// GetLink returns the link for username or ErrNotFound.
	GetLink(ctx context.Context, username string) (*IdentityLink, error)

	// ListLinks returns every link ordered by username.
	ListLinks(ctx context.Context) ([]*IdentityLink, error)

	// ListLinksByRequester returns the links owned by requesterID ordered by username.
	ListLinksByRequester(ctx context.Context, requesterID string) ([]*IdentityLink, error)
}

// IdentityLink maps an external service username to the chat identity
// that requested it. Several links may share a RequesterID.
type IdentityLink struct {
	Username    string    `json:"username" gorm:"primaryKey"`
	RequesterID string    `json:"requester_id" gorm:"index;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy of the link so callers never alias driver state.
func (l *IdentityLink) Clone() *IdentityLink {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
