package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/halvard/vesper/pkg/provider/recognizer"
	"github.com/halvard/vesper/pkg/provider/synthesizer"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizer  map[string]func(ProviderEntry) (recognizer.Provider, error)
	synthesizer map[string]func(ProviderEntry) (synthesizer.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizer:  make(map[string]func(ProviderEntry) (recognizer.Provider, error)),
		synthesizer: make(map[string]func(ProviderEntry) (synthesizer.Provider, error)),
	}
}

// RegisterRecognizer registers a recognizer provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (recognizer.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterSynthesizer registers a synthesizer provider factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (synthesizer.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (recognizer.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a synthesizer using the factory registered
// under entry.Name.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (synthesizer.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
