package omnicas

import (
	"fmt"
	"slices"
	"sync"
)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]EngineFactory)
)

// EngineFactory creates an Engine from configuration.
type EngineFactory func(config map[string]string) (Engine, error)

// RegisterEngine makes an engine available to Open. Engine packages call it
// from init.
//
// RegisterEngine panics if factory is nil or name is already registered.
func RegisterEngine(name string, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	if factory == nil {
		panic("omnicas: RegisterEngine factory is nil")
	}
	if _, dup := engines[name]; dup {
		panic("omnicas: RegisterEngine called twice for engine " + name)
	}
	engines[name] = factory
}

// OpenEngine creates the named engine.
func OpenEngine(name string, config map[string]string) (Engine, error) {
	enginesMu.RLock()
	factory, ok := engines[name]
	enginesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
	return factory(config)
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()

	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsEngineRegistered reports whether name is registered.
func IsEngineRegistered(name string) bool {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	_, ok := engines[name]
	return ok
}

// UnregisterEngine removes a registered engine. It is used by tests.
func UnregisterEngine(name string) bool {
	enginesMu.Lock()
	defer enginesMu.Unlock()

	if _, ok := engines[name]; ok {
		delete(engines, name)
		return true
	}
	return false
}
