package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is a YAML document carrying additional kind schemas, used to
// validate declarations for kinds whose provider is not loadable locally.
type Catalog struct {
	Kinds []KindSchema `yaml:"kinds"`
}

// LoadCatalog parses a catalog document.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for _, ks := range cat.Kinds {
		if ks.Kind == "" {
			return nil, fmt.Errorf("catalog entry has no kind name")
		}
	}
	return &cat, nil
}

// LoadCatalogFile parses a catalog document from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Merge registers every catalog kind into the registry. Kinds already
// registered by a provider win; catalog duplicates of them are skipped.
func (r *Registry) Merge(cat *Catalog) error {
	for _, ks := range cat.Kinds {
		if _, exists := r.Get(ks.Kind); exists {
			continue
		}
		if err := r.Register(ks); err != nil {
			return err
		}
	}
	return nil
}
