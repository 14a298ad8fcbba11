package eval

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingEntryPoint(t *testing.T) {
	e := NewEvaluator(t.TempDir())

	_, err := e.LoadConfig(context.Background(), "does-not-exist.pkl", nil)
	assert.Error(t, err)
}

// The remaining tests drive the real evaluator and need the pkl binary.
func requirePkl(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("pkl"); err != nil {
		t.Skip("pkl binary not on PATH")
	}
}

func TestLoadConfig_DecodesDeclarations(t *testing.T) {
	requirePkl(t)

	dir := t.TempDir()
	module := filepath.Join(dir, "main.pkl")
	src := `
resources: Listing<Dynamic> = new {
  new {
    name = "web"
    kind = "docker_container"
    provider = "docker"
    dependsOn = new Listing { "net" }
    attributes {
      image = "nginx:alpine"
      ports {
        http = 8080
      }
    }
  }
  new {
    name = "net"
    kind = "docker_network"
  }
}

outputs: Mapping<String, Any> = new {
  ["endpoint"] = "ref://web.ip"
}
`
	require.NoError(t, os.WriteFile(module, []byte(src), 0644))

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), module, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Resources, 2)
	web := cfg.Resources[0]
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, "docker_container", web.Kind)
	assert.Equal(t, "docker", web.Provider)
	assert.Equal(t, []string{"net"}, web.DependsOn)
	assert.Equal(t, "nginx:alpine", web.Attributes["image"])

	assert.Equal(t, "ref://web.ip", cfg.Outputs["endpoint"])
}

func TestLoadConfig_ExternalProperties(t *testing.T) {
	requirePkl(t)

	dir := t.TempDir()
	module := filepath.Join(dir, "main.pkl")
	src := `
image = read("prop:image")

resources: Listing<Dynamic> = new {
  new {
    name = "web"
    kind = "docker_container"
    attributes {
      image = module.image
    }
  }
}
`
	require.NoError(t, os.WriteFile(module, []byte(src), 0644))

	cfg, err := NewEvaluator(dir).LoadConfig(context.Background(), module,
		map[string]string{"image": "nginx:1.27"})
	require.NoError(t, err)

	require.Len(t, cfg.Resources, 1)
	assert.Equal(t, "nginx:1.27", cfg.Resources[0].Attributes["image"])
}
