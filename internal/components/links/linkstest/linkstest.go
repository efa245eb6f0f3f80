// Package linkstest builds identity link registries for tests.
package linkstest

import (
	"context"
	"testing"

	"github.com/CodeMC/bot/internal/components/links"
	"github.com/CodeMC/bot/internal/platform/store"
	_ "github.com/CodeMC/bot/internal/platform/store/json"
)

// NewRegistry returns a registry backed by the json driver in a temp dir.
func NewRegistry(t testing.TB) *links.Registry {
	t.Helper()
	driver, ls, err := store.NewLinkStore(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLinkStore: %v", err)
	}
	if err := driver.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { driver.Close() })
	return links.NewRegistry(ls, nil)
}
