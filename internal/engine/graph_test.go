package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/schema"
)

func TestBuildGraph_NoDependencies(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource"},
		{Name: "b", Kind: "null_resource"},
		{Name: "c", Kind: "null_resource"},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	// Ties resolve by name, so the order is stable across runs.
	assert.Equal(t, []string{"a", "b", "c"}, g.CreationOrder())
	assert.Equal(t, 3, g.Len())
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource", DependsOn: []string{"b"}},
		{Name: "b", Kind: "null_resource"},
		{Name: "c", Kind: "null_resource", DependsOn: []string{"a"}},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	order := g.CreationOrder()
	require.Len(t, order, 3)

	posA := indexOf(order, "a")
	posB := indexOf(order, "b")
	posC := indexOf(order, "c")
	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildGraph_ImplicitReference(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name: "web",
			Kind: "docker_container",
			Attributes: map[string]any{
				"network": "ref://net.id",
			},
		},
		{Name: "net", Kind: "docker_network"},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"net", "web"}, g.CreationOrder())
	assert.Equal(t, []string{"net"}, g.Node("web").Deps)
}

func TestBuildGraph_SelfReferenceAddsNoEdge(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name: "web",
			Kind: "null_resource",
			Attributes: map[string]any{
				"note": "ref://web.id",
			},
		},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)
	assert.Empty(t, g.Node("web").Deps)
}

func TestBuildGraph_DuplicateName(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource"},
		{Name: "a", Kind: "null_resource"},
	}

	_, err := BuildGraph(decls, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate logical name "a"`)
}

func TestBuildGraph_UnresolvedReference(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Name: "web",
			Kind: "null_resource",
			Attributes: map[string]any{
				"net": "ref://ghost.id",
			},
		},
	}

	_, err := BuildGraph(decls, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnresolvedReference))
	assert.Contains(t, err.Error(), "ref://ghost.id")
	assert.Contains(t, err.Error(), "no declaration with that name")
}

func TestBuildGraph_DependsOnUnknownName(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "web", Kind: "null_resource", DependsOn: []string{"ghost"}},
	}

	_, err := BuildGraph(decls, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnresolvedReference))
	assert.Contains(t, err.Error(), "dependsOn names no declaration")
}

func TestBuildGraph_ReferenceToUndefinedAttribute(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Register(schema.KindSchema{
		Kind: "null_resource",
		Attributes: map[string]schema.AttributeSchema{
			"triggers": {Type: schema.TypeMap, Immutable: true},
			"id":       {Type: schema.TypeString, Computed: true},
		},
	}))

	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource"},
		{
			Name: "b",
			Kind: "null_resource",
			Attributes: map[string]any{
				"triggers": map[string]any{"peer": "ref://a.arn"},
			},
		},
	}

	// Without schemas any attribute resolves; with them the target kind
	// must define the referenced attribute.
	_, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	_, err = BuildGraph(decls, schemas)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrUnresolvedReference))
	assert.Contains(t, err.Error(), `kind null_resource has no attribute "arn"`)
}

func TestBuildGraph_CycleDetection(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource", DependsOn: []string{"b"}},
		{Name: "b", Kind: "null_resource", DependsOn: []string{"a"}},
	}

	_, err := BuildGraph(decls, nil)
	require.Error(t, err)
	assert.EqualError(t, err, "dependency cycle detected: a -> b")
	assert.True(t, IsKind(err, ErrCycleDetected))

	var engErr *Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, []string{"a", "b"}, engErr.Cycle)
}

func TestGraph_DestructionOrder(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "a", Kind: "null_resource", DependsOn: []string{"b"}},
		{Name: "b", Kind: "null_resource"},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	// a depends on b, so a is destroyed first.
	assert.Equal(t, []string{"a", "b"}, g.DestructionOrder())
}

func TestGraph_DependenciesAndDependents(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "app", Kind: "null_resource", DependsOn: []string{"db", "cache"}},
		{Name: "db", Kind: "null_resource"},
		{Name: "cache", Kind: "null_resource"},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"db", "cache"}, g.Dependencies("app"))
	assert.Equal(t, []string{"app"}, g.Dependents("db"))
	assert.Empty(t, g.Dependencies("db"))
}

func TestGraph_TransitiveClosure(t *testing.T) {
	decls := []*ir.Declaration{
		{Name: "app", Kind: "null_resource", DependsOn: []string{"db"}},
		{Name: "db", Kind: "null_resource", DependsOn: []string{"disk"}},
		{Name: "disk", Kind: "null_resource"},
	}

	g, err := BuildGraph(decls, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"db", "disk"}, g.TransitiveDependencies("app"))
	assert.Equal(t, []string{"app", "db"}, g.TransitiveDependents("disk"))
	assert.Empty(t, g.TransitiveDependencies("disk"))
}

func TestBuildGraphFromRecords(t *testing.T) {
	records := map[string]*ir.ResourceRecord{
		"disk": {Name: "disk", Kind: "fake_box", Provider: "fake"},
		"db":   {Name: "db", Kind: "fake_box", Provider: "fake", Dependencies: []string{"disk"}},
		// Dependencies pointing outside the record set are ignored.
		"app": {Name: "app", Kind: "fake_box", Provider: "fake", Dependencies: []string{"db", "gone"}},
	}

	g, err := BuildGraphFromRecords(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"disk", "db", "app"}, g.CreationOrder())
	assert.Equal(t, []string{"app", "db", "disk"}, g.DestructionOrder())
	assert.Equal(t, "fake_box", g.Node("db").Kind)
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
