// Package service defines the contract for HTTP services mounted on the server.
package service

import "net/http"

// Service represents an HTTP service that can be mounted and closed.
type Service interface {
	Handler() http.Handler
	// Prefix is the mount path without a leading slash; "" mounts at root.
	Prefix() string
	Close() error
	// Unprotected lists paths served without authentication.
	Unprotected() []string
}
