package null

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Provider conformance suite. Every provider must survive the full resource
// lifecycle: Create -> Read -> Update -> Destroy, with outputs that always
// carry the resource id, and schemas whose kinds are prefixed with the
// provider name.

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	inputs := map[string]any{"triggers": map[string]any{"key": "value"}}

	// Create
	id, outputs, err := p.Create(ctx, "null_resource", inputs)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, outputs["id"])

	// Read back what was created
	readOutputs, exists, err := p.Read(ctx, "null_resource", id, inputs)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, id, readOutputs["id"])

	// Update keeps the id stable
	newInputs := map[string]any{"triggers": map[string]any{"key": "new-value"}}
	updated, err := p.Update(ctx, "null_resource", id, inputs, newInputs)
	require.NoError(t, err)
	assert.Equal(t, id, updated["id"])
	assert.Equal(t, newInputs["triggers"], updated["triggers"])

	// Destroy, twice: destroying an already-gone resource must not fail
	require.NoError(t, p.Destroy(ctx, "null_resource", id))
	require.NoError(t, p.Destroy(ctx, "null_resource", id))
}

func TestConformance_Schemas(t *testing.T) {
	p := New()

	schemas := p.Schemas()
	require.NotEmpty(t, schemas)
	for _, ks := range schemas {
		assert.True(t, strings.HasPrefix(ks.Kind, p.Name()+"_"),
			"kind %s must be prefixed with the provider name", ks.Kind)
		idAttr, ok := ks.Attributes["id"]
		require.True(t, ok, "kind %s must expose a computed id", ks.Kind)
		assert.True(t, idAttr.Computed)
		assert.False(t, idAttr.Required)
	}
}
