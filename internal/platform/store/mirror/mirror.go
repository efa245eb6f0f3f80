// Package mirror implements a SQLite + JSON mirror persistence driver.
// SQLite is the source of truth; links.json under mirror/ is a one-way
// export for operators. The program never reads the JSON back.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/CodeMC/bot/internal/platform/store"
	"github.com/CodeMC/bot/internal/platform/store/sqlite"
)

// ExportFile is the mirror file name.
const ExportFile = "links.json"

func init() {
	store.Register("mirror", NewDriver)
}

// Driver delegates to the sqlite driver and re-exports after every write.
type Driver struct {
	*sqlite.Driver

	mirrorDir string
	mu        sync.Mutex // serializes exports
}

// NewDriver creates a new mirror driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for mirror driver")
	}
	inner, err := sqlite.NewDriver(cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{
		Driver:    inner.(*sqlite.Driver),
		mirrorDir: filepath.Join(cfg.DataDir, "mirror"),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "mirror"
}

// Init opens the database and writes the initial export.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.mirrorDir, 0700); err != nil {
		return fmt.Errorf("failed to create mirror dir: %w", err)
	}
	if err := d.Driver.Init(ctx); err != nil {
		return err
	}
	if err := d.export(ctx); err != nil {
		return fmt.Errorf("failed to export mirror: %w", err)
	}
	return nil
}

// CreateLink inserts a link and refreshes the export.
func (d *Driver) CreateLink(ctx context.Context, link *store.IdentityLink) error {
	if err := d.Driver.CreateLink(ctx, link); err != nil {
		return err
	}
	return d.export(ctx)
}

// UpdateLink updates a link and refreshes the export.
func (d *Driver) UpdateLink(ctx context.Context, link *store.IdentityLink) error {
	if err := d.Driver.UpdateLink(ctx, link); err != nil {
		return err
	}
	return d.export(ctx)
}

// DeleteLink removes a link and refreshes the export when a row went away.
func (d *Driver) DeleteLink(ctx context.Context, username string) (int64, error) {
	n, err := d.Driver.DeleteLink(ctx, username)
	if err != nil || n == 0 {
		return n, err
	}
	return n, d.export(ctx)
}

func (d *Driver) export(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	links, err := d.Driver.ListLinks(ctx)
	if err != nil {
		return err
	}
	if links == nil {
		links = []*store.IdentityLink{}
	}
	return d.writeJSON(ExportFile, links)
}

// writeJSON atomically writes data to a JSON file in the mirror directory.
func (d *Driver) writeJSON(filename string, data any) error {
	path := filepath.Join(d.mirrorDir, filename)
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Compile-time interface checks
var _ store.Driver = (*Driver)(nil)
var _ store.LinkStore = (*Driver)(nil)
