// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/CodeMC/bot/internal/platform/store"
)

// DatabaseFile is the file name created under the data directory.
const DatabaseFile = "links.db"

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(d.dataDir, DatabaseFile)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers, so concurrent workflows touching
	// the same username observe a total order.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d.db = db

	if err := db.WithContext(ctx).AutoMigrate(&store.IdentityLink{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateLink inserts a new identity link.
func (d *Driver) CreateLink(ctx context.Context, link *store.IdentityLink) error {
	now := time.Now().UTC()
	row := link.Clone()
	row.CreatedAt = now
	row.UpdatedAt = now

	result := d.db.WithContext(ctx).Create(row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// UpdateLink points an existing username at a new requester.
func (d *Driver) UpdateLink(ctx context.Context, link *store.IdentityLink) error {
	result := d.db.WithContext(ctx).
		Model(&store.IdentityLink{}).
		Where("username = ?", link.Username).
		Updates(map[string]any{
			"requester_id": link.RequesterID,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteLink removes the link for username.
func (d *Driver) DeleteLink(ctx context.Context, username string) (int64, error) {
	result := d.db.WithContext(ctx).Delete(&store.IdentityLink{}, "username = ?", username)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GetLink retrieves the link for username.
func (d *Driver) GetLink(ctx context.Context, username string) (*store.IdentityLink, error) {
	var link store.IdentityLink
	result := d.db.WithContext(ctx).First(&link, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &link, nil
}

// ListLinks returns all links.
func (d *Driver) ListLinks(ctx context.Context) ([]*store.IdentityLink, error) {
	var links []*store.IdentityLink
	result := d.db.WithContext(ctx).Order("username").Find(&links)
	if result.Error != nil {
		return nil, result.Error
	}
	return links, nil
}

// ListLinksByRequester returns the links owned by requesterID.
func (d *Driver) ListLinksByRequester(ctx context.Context, requesterID string) ([]*store.IdentityLink, error) {
	var links []*store.IdentityLink
	result := d.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("username").
		Find(&links)
	if result.Error != nil {
		return nil, result.Error
	}
	return links, nil
}

// Compile-time interface checks
var _ store.Driver = (*Driver)(nil)
var _ store.LinkStore = (*Driver)(nil)
