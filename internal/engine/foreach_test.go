package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func TestExpandForEach_NoIteration(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource", Attributes: map[string]any{"key": "val"}},
	}

	expanded := ExpandForEach(decls)
	require.Len(t, expanded, 1)
	assert.Equal(t, "a", expanded[0].Name)
}

func TestExpandForEach_Count(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name:  "server",
			Kind:  "null_resource",
			Count: 3,
			Attributes: map[string]any{
				"index": "${count.index}",
				"triggers": map[string]any{
					"slot": "server-${count.index}",
				},
			},
		},
	}

	expanded := ExpandForEach(decls)
	require.Len(t, expanded, 3)

	assert.Equal(t, "server[0]", expanded[0].Name)
	assert.Equal(t, "0", expanded[0].Attributes["index"])
	assert.Equal(t, "server[2]", expanded[2].Name)
	assert.Equal(t, "2", expanded[2].Attributes["index"])

	// Substitution reaches into nested values, and clones drop Count so
	// expansion cannot recurse.
	triggers := expanded[1].Attributes["triggers"].(map[string]any)
	assert.Equal(t, "server-1", triggers["slot"])
	assert.Zero(t, expanded[0].Count)
}

func TestExpandForEach_ForEach(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name: "bucket",
			Kind: "aws_s3_bucket",
			ForEach: map[string]any{
				"logs": "logs-bucket",
				"data": "data-bucket",
			},
			Attributes: map[string]any{
				"bucket": "${each.value}",
				"tag":    "${each.key}",
			},
		},
	}

	expanded := ExpandForEach(decls)
	require.Len(t, expanded, 2)

	// Keys expand in sorted order so plans are stable.
	assert.Equal(t, `bucket["data"]`, expanded[0].Name)
	assert.Equal(t, "data-bucket", expanded[0].Attributes["bucket"])
	assert.Equal(t, "data", expanded[0].Attributes["tag"])

	assert.Equal(t, `bucket["logs"]`, expanded[1].Name)
	assert.Equal(t, "logs-bucket", expanded[1].Attributes["bucket"])
}

func TestExpandForEach_PreservesLifecycleAndDeps(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name:      "server",
			Kind:      "null_resource",
			Count:     2,
			DependsOn: []string{"net"},
			Lifecycle: &ir.Lifecycle{
				PreventDestroy: true,
				IgnoreChanges:  []string{"tags"},
			},
			Attributes: map[string]any{},
		},
	}

	expanded := ExpandForEach(decls)
	require.Len(t, expanded, 2)

	for _, d := range expanded {
		require.NotNil(t, d.Lifecycle)
		assert.True(t, d.Lifecycle.PreventDestroy)
		assert.Equal(t, []string{"tags"}, d.Lifecycle.IgnoreChanges)
		assert.Equal(t, []string{"net"}, d.DependsOn)
	}
}

func TestExpandForEach_ClonesAreIsolated(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name:  "server",
			Kind:  "null_resource",
			Count: 2,
			Attributes: map[string]any{
				"triggers": map[string]any{"rev": "1"},
			},
		},
	}

	expanded := ExpandForEach(decls)
	require.Len(t, expanded, 2)

	expanded[0].Attributes["triggers"].(map[string]any)["rev"] = "changed"
	assert.Equal(t, "1", expanded[1].Attributes["triggers"].(map[string]any)["rev"])
	assert.Equal(t, "1", decls[0].Attributes["triggers"].(map[string]any)["rev"])
}
