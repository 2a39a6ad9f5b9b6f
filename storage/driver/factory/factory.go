package factory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tigrisdata/s3fs/transfer"
)

// driverFactories stores an internal mapping between storage driver names and their respective
// factories
var (
	driverFactories = make(map[string]StorageDriverFactory)
	mu              sync.RWMutex
)

// StorageDriverFactory is a factory interface for creating transfer.BlobStore interfaces
// Storage drivers should call Register() with a factory to make the driver available by name.
// Individual StorageDriverFactory implementations generally register through an init() function
// in the driver's package.
type StorageDriverFactory interface {
	// Create returns a new transfer.BlobStore with the given parameters
	// Parameters will vary by driver and may be ignored
	// Each parameter key must only consist of lowercase letters and numbers
	Create(parameters map[string]any) (transfer.BlobStore, error)
}

// Register makes a storage driver available by the provided name.
// If Register is called twice with the same name or if driver factory is nil, it panics.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("Must not provide nil StorageDriverFactory")
	}

	mu.Lock()
	defer mu.Unlock()

	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("StorageDriverFactory named %s already registered", name))
	}

	driverFactories[name] = factory
}

// Create a new transfer.BlobStore with the given name and
// parameters. To use a driver, the StorageDriverFactory must first be
// registered with the given name. If no drivers are found, an
// InvalidStorageDriverError is returned
func Create(name string, parameters map[string]any) (transfer.BlobStore, error) {
	mu.RLock()
	driverFactory, ok := driverFactories[name]
	mu.RUnlock()

	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return driverFactory.Create(parameters)
}

// Names returns the names of every registered driver, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(driverFactories))
	for name := range driverFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvalidStorageDriverError records an attempt to construct an unregistered storage driver
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("StorageDriver not registered: %s", err.Name)
}
