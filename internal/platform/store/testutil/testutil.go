// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/CodeMC/bot/internal/platform/store"
)

// TestLink creates a test identity link.
func TestLink(username, requesterID string) *store.IdentityLink {
	return &store.IdentityLink{
		Username:    username,
		RequesterID: requesterID,
	}
}

// RunDriverTests runs the standard test suite against a driver.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	ctx := context.Background()

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	defer driver.Close()

	if err := driver.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if driver.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, driver.Name())
	}

	links, ok := driver.(store.LinkStore)
	if !ok {
		t.Fatalf("%s driver does not implement LinkStore", driverName)
	}

	t.Run("LinkCRUD", func(t *testing.T) {
		TestLinkCRUD(t, ctx, links)
	})

	t.Run("RequesterScopedListing", func(t *testing.T) {
		TestRequesterScopedListing(t, ctx, links)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		TestConcurrentCreateSingleWinner(t, ctx, links)
	})
}

// TestLinkCRUD tests CRUD operations for identity links.
func TestLinkCRUD(t *testing.T, ctx context.Context, s store.LinkStore) {
	link := TestLink("Alice", "1001")

	if err := s.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	// Duplicate create must be rejected
	if err := s.CreateLink(ctx, TestLink("Alice", "2002")); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}

	got, err := s.GetLink(ctx, "Alice")
	if err != nil {
		t.Fatalf("GetLink failed: %v", err)
	}
	if got.RequesterID != "1001" {
		t.Errorf("expected requester 1001, got %q", got.RequesterID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	if err := s.UpdateLink(ctx, TestLink("Alice", "3003")); err != nil {
		t.Fatalf("UpdateLink failed: %v", err)
	}
	got, _ = s.GetLink(ctx, "Alice")
	if got.RequesterID != "3003" {
		t.Errorf("expected requester 3003 after update, got %q", got.RequesterID)
	}

	if err := s.UpdateLink(ctx, TestLink("Nobody", "1")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating absent link, got %v", err)
	}

	all, err := s.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 link, got %d", len(all))
	}

	n, err := s.DeleteLink(ctx, "Alice")
	if err != nil {
		t.Fatalf("DeleteLink failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row removed, got %d", n)
	}

	// Delete is idempotent
	n, err = s.DeleteLink(ctx, "Alice")
	if err != nil {
		t.Fatalf("second DeleteLink failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows removed on second delete, got %d", n)
	}

	if _, err := s.GetLink(ctx, "Alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestRequesterScopedListing verifies that one requester may own several usernames.
func TestRequesterScopedListing(t *testing.T, ctx context.Context, s store.LinkStore) {
	for _, l := range []*store.IdentityLink{
		TestLink("Bob", "42"),
		TestLink("Bob2", "42"),
		TestLink("Carol", "7"),
	} {
		if err := s.CreateLink(ctx, l); err != nil {
			t.Fatalf("CreateLink %s failed: %v", l.Username, err)
		}
	}

	owned, err := s.ListLinksByRequester(ctx, "42")
	if err != nil {
		t.Fatalf("ListLinksByRequester failed: %v", err)
	}
	if len(owned) != 2 || owned[0].Username != "Bob" || owned[1].Username != "Bob2" {
		t.Errorf("expected [Bob Bob2], got %v", usernames(owned))
	}

	none, err := s.ListLinksByRequester(ctx, "404")
	if err != nil {
		t.Fatalf("ListLinksByRequester (none) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no links, got %v", usernames(none))
	}

	// Cleanup
	for _, name := range []string{"Bob", "Bob2", "Carol"} {
		s.DeleteLink(ctx, name)
	}
}

// TestConcurrentCreateSingleWinner races creates on one username; exactly one must win.
func TestConcurrentCreateSingleWinner(t *testing.T, ctx context.Context, s store.LinkStore) {
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateLink(ctx, TestLink("Racer", fmt.Sprintf("req-%d", i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful create, got %d", wins)
	}
	s.DeleteLink(ctx, "Racer")
}

func usernames(links []*store.IdentityLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Username)
	}
	return out
}
