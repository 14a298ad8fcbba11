package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue_Reference(t *testing.T) {
	v := ParseValue("ref://net.id")
	require.True(t, v.IsReference())

	ref, ok := v.Reference()
	require.True(t, ok)
	assert.Equal(t, Reference{Node: "net", Attribute: "id"}, ref)
	assert.Equal(t, "ref://net.id", v.String())
	assert.Equal(t, "ref://net.id", v.LiteralValue(), "references round-trip as their canonical string")
}

func TestParseValue_Literal(t *testing.T) {
	for _, raw := range []any{"hello", 42, true, map[string]any{"a": "b"}, []any{"x"}} {
		v := ParseValue(raw)
		assert.False(t, v.IsReference(), "%v", raw)
		assert.Equal(t, raw, v.LiteralValue())
	}
}

func TestParseValue_MalformedReferences(t *testing.T) {
	// Anything that does not name both a node and an attribute stays literal.
	for _, raw := range []string{"ref://", "ref://noattr", "ref://.attr", "ref://node."} {
		v := ParseValue(raw)
		assert.False(t, v.IsReference(), raw)
		assert.Equal(t, raw, v.LiteralValue())
	}

	v := ParseValue("ref://web.network.id")
	require.True(t, v.IsReference())
	ref, _ := v.Reference()
	assert.Equal(t, Reference{Node: "web", Attribute: "network.id"}, ref, "attribute keeps everything after the first dot")
}

func TestValue_NestedReferences(t *testing.T) {
	v := ParseValue(map[string]any{
		"env": map[string]any{
			"DB_HOST": "ref://db.address",
			"DEBUG":   "false",
		},
		"links": []any{"ref://cache.id", "static"},
	})
	assert.ElementsMatch(t, []Reference{
		{Node: "db", Attribute: "address"},
		{Node: "cache", Attribute: "id"},
	}, v.References())
}

func TestCollectReferences(t *testing.T) {
	refs := CollectReferences(map[string]any{
		"image":   "nginx:1.27",
		"network": "ref://net.id",
		"volumes": []any{"ref://data.id"},
	})
	assert.ElementsMatch(t, []Reference{
		{Node: "net", Attribute: "id"},
		{Node: "data", Attribute: "id"},
	}, refs)
}

func TestValueConstructors(t *testing.T) {
	assert.Equal(t, 5, Literal(5).LiteralValue())
	assert.False(t, Literal(5).IsReference())

	ref := Ref("net", "id")
	assert.True(t, ref.IsReference())
	assert.Equal(t, "ref://net.id", ref.String())
}

func TestDeclaration_References(t *testing.T) {
	decl := &Declaration{
		Name: "web",
		Kind: "docker_container",
		Attributes: map[string]any{
			"image":   "nginx:1.27",
			"network": "ref://net.id",
		},
	}
	assert.Equal(t, []Reference{{Node: "net", Attribute: "id"}}, decl.References())

	vals := decl.Values()
	assert.True(t, vals["network"].IsReference())
	assert.False(t, vals["image"].IsReference())
}
