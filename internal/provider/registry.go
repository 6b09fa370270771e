package provider

import (
	"context"
	"fmt"
	"sync"
)

// Factory constructs a provider instance.
type Factory func() Interface

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider constructor available under the given
// name. Provider packages call this from init; importing a provider package
// is enough to make it loadable.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("provider: RegisterFactory called twice for %s", name))
	}
	factories[name] = f
}

// Registry manages the lifecycle of loaded providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Interface
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Interface),
	}
}

// LoadProvider instantiates and configures a provider by name. Loading an
// already-loaded provider is a no-op.
func (r *Registry) LoadProvider(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	p := factory()
	if err := p.Configure(ctx); err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", name, err)
	}

	r.providers[name] = p
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// SchemaFor returns the schema of the named resource type from the named
// provider, or an error if the provider does not support the type.
func (r *Registry) SchemaFor(providerName, resourceType string) (ResourceSchema, error) {
	p, err := r.Get(providerName)
	if err != nil {
		return ResourceSchema{}, err
	}
	rs, ok := p.Schema()[resourceType]
	if !ok {
		return ResourceSchema{}, fmt.Errorf("provider %s does not support resource type %s", providerName, resourceType)
	}
	return rs, nil
}
