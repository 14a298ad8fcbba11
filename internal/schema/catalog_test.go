package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
kinds:
  - kind: aws_sqs_queue
    attributes:
      queueName:
        type: string
        required: true
        immutable: true
      visibilityTimeout:
        type: number
      url:
        type: string
        computed: true
  - kind: docker_volume
    attributes:
      volumeName:
        type: string
        required: true
`

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Len(t, cat.Kinds, 2)

	queue := cat.Kinds[0]
	assert.Equal(t, "aws_sqs_queue", queue.Kind)
	assert.Equal(t, AttributeSchema{Type: TypeString, Required: true, Immutable: true}, queue.Attributes["queueName"])
	assert.Equal(t, AttributeSchema{Type: TypeNumber}, queue.Attributes["visibilityTimeout"])
	assert.True(t, queue.Attributes["url"].Computed)
}

func TestLoadCatalog_RejectsUnnamedEntry(t *testing.T) {
	_, err := LoadCatalog(strings.NewReader("kinds:\n  - attributes: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog entry has no kind name")
}

func TestLoadCatalog_RejectsMalformedYAML(t *testing.T) {
	_, err := LoadCatalog(strings.NewReader("kinds: [notamap"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse catalog")
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	cat, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Len(t, cat.Kinds, 2)

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open catalog")
}

func TestMerge_ProviderKindsWin(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(KindSchema{
		Kind: "aws_sqs_queue",
		Attributes: map[string]AttributeSchema{
			"queueName": {Type: TypeString, Required: true},
			"fifo":      {Type: TypeBool},
		},
	}))

	cat, err := LoadCatalog(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.NoError(t, reg.Merge(cat))

	// The provider-registered queue schema is untouched; only the kind the
	// registry did not know about comes from the catalog.
	queue, ok := reg.Get("aws_sqs_queue")
	require.True(t, ok)
	assert.True(t, queue.HasAttribute("fifo"))
	assert.False(t, queue.HasAttribute("visibilityTimeout"))

	volume, ok := reg.Get("docker_volume")
	require.True(t, ok)
	assert.True(t, volume.HasAttribute("volumeName"))
}
