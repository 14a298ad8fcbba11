package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/terrane-io/terrane/internal/schema"
	"github.com/terrane-io/terrane/providers/aws"
	"github.com/terrane-io/terrane/providers/docker"
	"github.com/terrane-io/terrane/providers/null"
)

// Registry manages the lifecycle of providers and aggregates their kind
// schemas.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provisioner
	schemas   *schema.Registry
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provisioner),
		schemas:   schema.NewRegistry(),
	}
}

// LoadProvider initializes and registers a built-in provider and its kind
// schemas. Loading an already-loaded provider is a no-op.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p Provisioner
	switch name {
	case "null":
		p = null.New()
	case "docker":
		p = docker.New()
	case "aws":
		p = aws.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	if err := r.schemas.RegisterAll(p.Schemas()); err != nil {
		return fmt.Errorf("failed to register schemas for provider %s: %w", name, err)
	}
	r.providers[name] = p
	return nil
}

// Register adds a provider instance directly, registering its kind
// schemas. Used by tests and embedded callers that bring their own
// provisioners.
func (r *Registry) Register(p Provisioner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider already registered: %s", name)
	}
	if err := r.schemas.RegisterAll(p.Schemas()); err != nil {
		return fmt.Errorf("failed to register schemas for provider %s: %w", name, err)
	}
	r.providers[name] = p
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Provisioner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// Schemas returns the schema registry aggregated from loaded providers.
func (r *Registry) Schemas() *schema.Registry {
	return r.schemas
}

// Loaded returns the names of loaded providers.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// InferProvider derives the provider name from a kind when the declaration
// does not set one explicitly: "aws_s3_bucket" -> "aws".
func InferProvider(kind string) string {
	if i := strings.Index(kind, "_"); i > 0 {
		switch kind[:i] {
		case "aws", "docker":
			return kind[:i]
		}
	}
	return "null"
}

var (
	_ Provisioner = (*null.Provider)(nil)
	_ Provisioner = (*docker.Provider)(nil)
	_ Provisioner = (*aws.Provider)(nil)
)
