// Package json implements a JSON file-based persistence driver.
// It uses atomic writes (temp file + fsync + rename) and in-process locking.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/CodeMC/bot/internal/platform/store"
)

// LinksFile is the file name written under the data directory.
const LinksFile = "links.json"

func init() {
	store.Register("json", NewDriver)
}

// Driver implements the store.Driver interface using JSON files.
type Driver struct {
	dataDir string
	mu      sync.RWMutex
	closed  bool

	links map[string]*store.IdentityLink // keyed by username
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
		links:   make(map[string]*store.IdentityLink),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads links from disk.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := d.loadFile(LinksFile, &d.links); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load links: %w", err)
	}
	if d.links == nil {
		d.links = make(map[string]*store.IdentityLink)
	}

	return nil
}

// Close releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) loadFile(filename string, target any) error {
	path := filepath.Join(d.dataDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// saveFile atomically writes data to a JSON file.
// Pattern: write to temp file, fsync, rename.
func (d *Driver) saveFile(filename string, data any) error {
	path := filepath.Join(d.dataDir, filename)
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

// CreateLink inserts a new identity link.
func (d *Driver) CreateLink(ctx context.Context, link *store.IdentityLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	if _, exists := d.links[link.Username]; exists {
		return store.ErrAlreadyExists
	}

	now := time.Now().UTC()
	row := link.Clone()
	row.CreatedAt = now
	row.UpdatedAt = now
	d.links[row.Username] = row

	if err := d.saveFile(LinksFile, d.links); err != nil {
		delete(d.links, row.Username)
		return err
	}
	return nil
}

// UpdateLink points an existing username at a new requester.
func (d *Driver) UpdateLink(ctx context.Context, link *store.IdentityLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	existing, ok := d.links[link.Username]
	if !ok {
		return store.ErrNotFound
	}

	previous := existing.Clone()
	existing.RequesterID = link.RequesterID
	existing.UpdatedAt = time.Now().UTC()

	if err := d.saveFile(LinksFile, d.links); err != nil {
		d.links[link.Username] = previous
		return err
	}
	return nil
}

// DeleteLink removes the link for username.
func (d *Driver) DeleteLink(ctx context.Context, username string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, store.ErrClosed
	}
	existing, ok := d.links[username]
	if !ok {
		return 0, nil
	}

	delete(d.links, username)
	if err := d.saveFile(LinksFile, d.links); err != nil {
		d.links[username] = existing
		return 0, err
	}
	return 1, nil
}

// GetLink retrieves the link for username.
func (d *Driver) GetLink(ctx context.Context, username string) (*store.IdentityLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}
	link, ok := d.links[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return link.Clone(), nil
}

// ListLinks returns all links.
func (d *Driver) ListLinks(ctx context.Context) ([]*store.IdentityLink, error) {
	return d.list(func(*store.IdentityLink) bool { return true })
}

// ListLinksByRequester returns the links owned by requesterID.
func (d *Driver) ListLinksByRequester(ctx context.Context, requesterID string) ([]*store.IdentityLink, error) {
	return d.list(func(l *store.IdentityLink) bool { return l.RequesterID == requesterID })
}

func (d *Driver) list(keep func(*store.IdentityLink) bool) ([]*store.IdentityLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	links := make([]*store.IdentityLink, 0, len(d.links))
	for _, l := range d.links {
		if keep(l) {
			links = append(links, l.Clone())
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Username < links[j].Username })
	return links, nil
}

// Compile-time interface checks
var _ store.Driver = (*Driver)(nil)
var _ store.LinkStore = (*Driver)(nil)
