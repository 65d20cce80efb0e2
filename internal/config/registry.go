package config

import (
	"fmt"
	"sync"

	"github.com/pkarolyi/coachvox/pkg/recog"
)

// ErrProviderNotRegistered is returned when a recognizer name has no
// registered factory.
var ErrProviderNotRegistered = fmt.Errorf("provider not registered")

// RecognizerFactory builds a recognition provider from its configuration.
type RecognizerFactory func(cfg RecognizerConfig) (recog.Provider, error)

// Registry maps recognizer names to factories. The zero value is not usable;
// create one with NewRegistry.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]RecognizerFactory),
	}
}

// RegisterRecognizer associates name with a factory. Registering the same
// name twice overwrites the earlier factory.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// CreateRecognizer builds the provider selected by cfg.Name.
func (r *Registry) CreateRecognizer(cfg RecognizerConfig) (recog.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("recognizer %q: %w", cfg.Name, ErrProviderNotRegistered)
	}
	return factory(cfg)
}

// RecognizerNames returns the registered names. Order is unspecified.
func (r *Registry) RecognizerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recognizers))
	for name := range r.recognizers {
		names = append(names, name)
	}
	return names
}
