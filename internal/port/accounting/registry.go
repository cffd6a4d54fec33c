package accounting

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an Adapter for one connection.
type Factory func(cfg Config) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an adapter factory available under a provider id.
// It is typically called from an init() function in the adapter package.
func Register(providerID string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[providerID]; exists {
		panic(fmt.Sprintf("accounting: duplicate registration for %q", providerID))
	}
	factories[providerID] = factory
}

// New creates an Adapter for cfg.Provider using its registered factory.
func New(cfg Config) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[cfg.Provider.ID]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("accounting: no adapter registered for provider %q", cfg.Provider.ID)
	}
	return factory(cfg)
}

// Available returns the registered provider ids, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VerifyCatalog returns an error naming every id in ids without a registered adapter.
func VerifyCatalog(ids []string) error {
	mu.RLock()
	defer mu.RUnlock()

	var missing []string
	for _, id := range ids {
		if _, ok := factories[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("accounting: providers without adapter: %v", missing)
	}
	return nil
}
