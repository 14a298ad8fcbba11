package docker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemasCoverAllKinds(t *testing.T) {
	p := New()

	kinds := make(map[string]bool)
	for _, ks := range p.Schemas() {
		kinds[ks.Kind] = true
		assert.True(t, strings.HasPrefix(ks.Kind, "docker_"))
		idAttr, ok := ks.Attributes["id"]
		require.True(t, ok, "kind %s must expose a computed id", ks.Kind)
		assert.True(t, idAttr.Computed)
	}

	for _, kind := range []string{"docker_image", "docker_network", "docker_volume", "docker_container"} {
		assert.True(t, kinds[kind], "missing schema for %s", kind)
	}
}

func TestContainerImageIsImmutable(t *testing.T) {
	p := New()

	for _, ks := range p.Schemas() {
		if ks.Kind != "docker_container" {
			continue
		}
		assert.True(t, ks.Attributes["image"].Immutable, "image change must force a replace")
		assert.False(t, ks.Attributes["restart"].Immutable, "restart policy updates in place")
		return
	}
	t.Fatal("docker_container schema not found")
}

func TestDecodeInputsContainer(t *testing.T) {
	inputs := map[string]any{
		"name":    "web",
		"image":   "nginx:1.27",
		"command": []any{"nginx", "-g", "daemon off;"},
		"ports":   map[string]any{"8080": 80},
		"env":     map[string]any{"MODE": "prod"},
		"healthcheck": map[string]any{
			"test":     []any{"CMD", "curl", "-f", "http://localhost/"},
			"interval": "10s",
			"retries":  3,
		},
	}

	var cfg ContainerConfig
	require.NoError(t, decodeInputs(inputs, &cfg))

	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "nginx:1.27", cfg.Image)
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, cfg.Command)
	assert.Equal(t, 80, cfg.Ports["8080"])
	assert.Equal(t, "prod", cfg.Env["MODE"])
	require.NotNil(t, cfg.Healthcheck)
	assert.Equal(t, "10s", cfg.Healthcheck.Interval)
	assert.Equal(t, 3, cfg.Healthcheck.Retries)
}

func TestMapToEnvList(t *testing.T) {
	env := mapToEnvList(map[string]string{"A": "1", "B": "2"})
	assert.Len(t, env, 2)
	assert.Contains(t, env, "A=1")
	assert.Contains(t, env, "B=2")
}
