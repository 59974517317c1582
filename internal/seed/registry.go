package seed

import (
	"strings"
	"sync"
)

type SourceFactory func(dsn string) (Source, error)

var sourceFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SourceFactory
}{
	factories: map[string]SourceFactory{},
}

// RegisterSourceFactory makes BuildSourceFromDSN hand DSNs with scheme to
// factory. Registered schemes take precedence over the built-in ones.
func RegisterSourceFactory(scheme string, factory SourceFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	sourceFactoryRegistry.mu.Lock()
	defer sourceFactoryRegistry.mu.Unlock()
	sourceFactoryRegistry.factories[scheme] = factory
}

func lookupSourceFactory(scheme string) (SourceFactory, bool) {
	scheme = normalizeScheme(scheme)
	sourceFactoryRegistry.mu.RLock()
	defer sourceFactoryRegistry.mu.RUnlock()
	factory, ok := sourceFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
