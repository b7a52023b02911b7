package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voximply/intake/pkg/provider/asr"
	"github.com/voximply/intake/pkg/provider/gen"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. The engine asks it to build the recognizers named in the
// consensus section and the generators named in the dispatch section. It is
// safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]func(ProviderEntry) (asr.Recognizer, error)
	generators  map[string]func(ProviderEntry) (gen.Generator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]func(ProviderEntry) (asr.Recognizer, error)),
		generators:  make(map[string]func(ProviderEntry) (gen.Generator, error)),
	}
}

// RegisterRecognizer registers a speech-recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterGenerator registers a generation-provider factory under name.
func (r *Registry) RegisterGenerator(name string, factory func(ProviderEntry) (gen.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGenerator instantiates a generator using the factory registered under
// entry.Name.
func (r *Registry) CreateGenerator(entry ProviderEntry) (gen.Generator, error) {
	r.mu.RLock()
	factory, ok := r.generators[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: generator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Recognizers builds every recognizer in the consensus section, in order.
func (r *Registry) Recognizers(cfg ConsensusConfig) ([]asr.Recognizer, error) {
	out := make([]asr.Recognizer, 0, len(cfg.Recognizers))
	for _, entry := range cfg.Recognizers {
		rec, err := r.CreateRecognizer(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GeneratorPair builds the primary/secondary generators of one capability.
func (r *Registry) GeneratorPair(pair CapabilityConfig) (primary, secondary gen.Generator, err error) {
	if primary, err = r.CreateGenerator(pair.Primary); err != nil {
		return nil, nil, err
	}
	if secondary, err = r.CreateGenerator(pair.Secondary); err != nil {
		return nil, nil, err
	}
	return primary, secondary, nil
}
