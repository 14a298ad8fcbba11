// Package null implements a provider that provisions nothing. It exists for
// wiring tests, conformance checks, and as the simplest possible example of
// the provider contract: a null_resource carries an immutable triggers map,
// so changing any trigger forces the engine to replace the resource.
package null

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/internal/schema"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "null"
}

func (p *Provider) Schemas() []schema.KindSchema {
	return []schema.KindSchema{
		{
			Kind: "null_resource",
			Attributes: map[string]schema.AttributeSchema{
				"triggers": {Type: schema.TypeMap, Immutable: true},
				"id":       {Type: schema.TypeString, Computed: true},
			},
		},
	}
}

func (p *Provider) Create(ctx context.Context, kind string, inputs map[string]any) (string, map[string]any, error) {
	if kind != "null_resource" {
		return "", nil, fmt.Errorf("unknown resource kind: %s", kind)
	}
	id := fmt.Sprintf("null-%s", uuid.NewString()[:8])
	return id, nullOutputs(id, inputs), nil
}

// Update never fires for null_resource in practice: its only input is
// immutable, so any change plans as a replace. It still echoes the new
// inputs so the contract holds if a mutable attribute is ever added.
func (p *Provider) Update(ctx context.Context, kind, id string, oldInputs, newInputs map[string]any) (map[string]any, error) {
	if kind != "null_resource" {
		return nil, fmt.Errorf("unknown resource kind: %s", kind)
	}
	return nullOutputs(id, newInputs), nil
}

func (p *Provider) Destroy(ctx context.Context, kind, id string) error {
	if kind != "null_resource" {
		return fmt.Errorf("unknown resource kind: %s", kind)
	}
	return nil
}

func (p *Provider) Read(ctx context.Context, kind, id string, inputs map[string]any) (map[string]any, bool, error) {
	if kind != "null_resource" {
		return nil, false, fmt.Errorf("unknown resource kind: %s", kind)
	}
	return nullOutputs(id, inputs), true, nil
}

func nullOutputs(id string, inputs map[string]any) map[string]any {
	outputs := map[string]any{"id": id}
	if triggers, ok := inputs["triggers"]; ok {
		outputs["triggers"] = triggers
	}
	return outputs
}
