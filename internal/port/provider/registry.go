package provider

import (
	"fmt"
	"sync"

	"github.com/quantlab/dispatch/internal/domain/task"
)

// Factory is a constructor function that creates a new Provider instance.
type Factory func() (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[task.Platform]Factory)
)

// Register makes a provider factory available for a platform. Adapters call
// this once during wiring; duplicate registration is a programming error.
func Register(p task.Platform, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[p]; exists {
		panic(fmt.Sprintf("provider: duplicate registration for %q", p))
	}
	factories[p] = factory
}

// New creates a Provider for the platform using the registered factory.
func New(p task.Platform) (Provider, error) {
	mu.RLock()
	factory, ok := factories[p]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: no factory for platform %q", p)
	}
	return factory()
}

// Available returns the platforms with a registered factory.
func Available() []task.Platform {
	mu.RLock()
	defer mu.RUnlock()

	platforms := make([]task.Platform, 0, len(factories))
	for p := range factories {
		platforms = append(platforms, p)
	}
	return platforms
}

// Reset removes all registered factories. Test use only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	factories = make(map[task.Platform]Factory)
}
