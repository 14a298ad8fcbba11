// Package schema holds, per resource kind, its attribute schema: which
// attributes are required, which are computed (output-only), and which are
// immutable and therefore force replacement when changed.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/terrane-io/terrane/internal/ir"
)

// Type is the declared type of an attribute value.
type Type string

const (
	TypeString Type = "string"
	TypeNumber Type = "number"
	TypeBool   Type = "bool"
	TypeList   Type = "list"
	TypeMap    Type = "map"
	TypeAny    Type = "any"
)

// AttributeSchema describes one attribute of a kind. Computed attributes are
// provider-assigned outputs and cannot be declared. Immutable input
// attributes force a replace when their declared value changes.
type AttributeSchema struct {
	Type      Type `yaml:"type"`
	Required  bool `yaml:"required,omitempty"`
	Computed  bool `yaml:"computed,omitempty"`
	Immutable bool `yaml:"immutable,omitempty"`
	Sensitive bool `yaml:"sensitive,omitempty"`
}

// KindSchema is the full attribute schema of one resource kind.
type KindSchema struct {
	Kind       string                     `yaml:"kind"`
	Attributes map[string]AttributeSchema `yaml:"attributes"`
}

// HasAttribute reports whether the kind declares the attribute, input or
// computed.
func (k KindSchema) HasAttribute(name string) bool {
	_, ok := k.Attributes[name]
	return ok
}

// Violation is a single schema validation failure.
type Violation struct {
	Name      string // logical name of the offending declaration
	Kind      string
	Attribute string
	Message   string
}

func (v Violation) Error() string {
	if v.Attribute != "" {
		return fmt.Sprintf("%s (%s): attribute %q %s", v.Name, v.Kind, v.Attribute, v.Message)
	}
	return fmt.Sprintf("%s (%s): %s", v.Name, v.Kind, v.Message)
}

// Registry maps resource kinds to their schemas.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]KindSchema
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]KindSchema)}
}

// Register adds a kind schema. Registering the same kind twice is an error.
func (r *Registry) Register(ks KindSchema) error {
	if ks.Kind == "" {
		return fmt.Errorf("kind schema has no kind name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[ks.Kind]; exists {
		return fmt.Errorf("kind %q already registered", ks.Kind)
	}
	r.kinds[ks.Kind] = ks
	return nil
}

// RegisterAll registers every schema, stopping at the first failure.
func (r *Registry) RegisterAll(schemas []KindSchema) error {
	for _, ks := range schemas {
		if err := r.Register(ks); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up the schema for a kind.
func (r *Registry) Get(kind string) (KindSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ks, ok := r.kinds[kind]
	return ks, ok
}

// Kinds returns all registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate checks a declaration against its kind's schema: the kind must be
// registered, required attributes must be present, declared attributes must
// exist, must not be computed-only, and literal values must match the
// attribute type. Reference values are checked for existence only; their
// types are not known until apply.
func (r *Registry) Validate(decl *ir.Declaration) []Violation {
	ks, ok := r.Get(decl.Kind)
	if !ok {
		return []Violation{{
			Name:    decl.Name,
			Kind:    decl.Kind,
			Message: "unknown kind",
		}}
	}

	var violations []Violation

	for attrName, attr := range ks.Attributes {
		if attr.Required && !attr.Computed {
			if _, declared := decl.Attributes[attrName]; !declared {
				violations = append(violations, Violation{
					Name:      decl.Name,
					Kind:      decl.Kind,
					Attribute: attrName,
					Message:   "is required",
				})
			}
		}
	}

	for attrName, raw := range decl.Attributes {
		attr, known := ks.Attributes[attrName]
		if !known {
			violations = append(violations, Violation{
				Name:      decl.Name,
				Kind:      decl.Kind,
				Attribute: attrName,
				Message:   "is not defined by the kind",
			})
			continue
		}
		if attr.Computed {
			violations = append(violations, Violation{
				Name:      decl.Name,
				Kind:      decl.Kind,
				Attribute: attrName,
				Message:   "is computed and cannot be declared",
			})
			continue
		}
		val := ir.ParseValue(raw)
		if val.IsReference() {
			continue
		}
		if msg, ok := checkType(attr.Type, raw); !ok {
			violations = append(violations, Violation{
				Name:      decl.Name,
				Kind:      decl.Kind,
				Attribute: attrName,
				Message:   msg,
			})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Attribute < violations[j].Attribute
	})
	return violations
}

func checkType(t Type, raw any) (string, bool) {
	if raw == nil || t == TypeAny || t == "" {
		return "", true
	}
	switch t {
	case TypeString:
		if _, ok := raw.(string); !ok {
			return fmt.Sprintf("must be a string, got %T", raw), false
		}
	case TypeNumber:
		switch raw.(type) {
		case int, int32, int64, uint, uint32, uint64, float32, float64:
		default:
			return fmt.Sprintf("must be a number, got %T", raw), false
		}
	case TypeBool:
		if _, ok := raw.(bool); !ok {
			return fmt.Sprintf("must be a bool, got %T", raw), false
		}
	case TypeList:
		if _, ok := raw.([]any); !ok {
			return fmt.Sprintf("must be a list, got %T", raw), false
		}
	case TypeMap:
		if _, ok := raw.(map[string]any); !ok {
			return fmt.Sprintf("must be a map, got %T", raw), false
		}
	}
	return "", true
}
