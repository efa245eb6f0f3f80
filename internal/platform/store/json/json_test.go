package json_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeMC/bot/internal/platform/store"
	storejson "github.com/CodeMC/bot/internal/platform/store/json"
	"github.com/CodeMC/bot/internal/platform/store/testutil"
)

func TestJSONDriver(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &store.DriverConfig{
		Driver:  "json",
		DataDir: tempDir,
	}

	testutil.RunDriverTests(t, "json", cfg)

	if _, err := os.Stat(filepath.Join(tempDir, storejson.LinksFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", storejson.LinksFile)
	}
}

func TestJSONDriverSurvivesRestart(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	cfg := &store.DriverConfig{Driver: "json", DataDir: tempDir}

	driver, links, err := store.NewLinkStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := links.CreateLink(ctx, testutil.TestLink("Bob", "42")); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	driver2, links2, err := store.NewLinkStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer driver2.Close()

	got, err := links2.GetLink(ctx, "Bob")
	if err != nil {
		t.Fatalf("link not found after restart: %v", err)
	}
	if got.RequesterID != "42" {
		t.Errorf("expected requester 42, got %q", got.RequesterID)
	}
}

func TestJSONDriverClosed(t *testing.T) {
	ctx := context.Background()
	driver, links, err := store.NewLinkStore(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	if err := links.CreateLink(ctx, testutil.TestLink("Late", "1")); err != store.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
