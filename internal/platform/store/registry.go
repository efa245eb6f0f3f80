package store

import (
	"fmt"
	"sort"
	"sync"
)

// DriverConfig holds configuration for driver selection and initialization.
type DriverConfig struct {
	// Driver is the driver name: json, sqlite, mirror
	Driver string `toml:"driver"`

	// DataDir is the directory for data files (json files, sqlite db)
	DataDir string `toml:"data_dir"`
}

// DriverFactory is a function that creates a driver instance.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name.
// This is typically called from init() in driver packages.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates a driver instance based on the configuration.
func New(cfg *DriverConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	return factory(cfg)
}

// NewLinkStore creates and initializes a driver that implements LinkStore.
// The returned Driver must be closed by the caller.
func NewLinkStore(cfg *DriverConfig) (Driver, LinkStore, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	ls, ok := d.(LinkStore)
	if !ok {
		return nil, nil, fmt.Errorf("driver %s does not implement LinkStore", cfg.Driver)
	}
	return d, ls, nil
}

// AvailableDrivers returns the sorted list of registered driver names.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
