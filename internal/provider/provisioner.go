// Package provider defines the contract between the engine and resource-kind
// provisioners, and the registry of loaded providers.
package provider

import (
	"context"

	"github.com/terrane-io/terrane/internal/schema"
)

// Provisioner is implemented by each provider. A provider owns one or more
// resource kinds and publishes their schemas. Create returns the opaque
// provider-assigned identifier plus final attribute values including
// computed outputs; Update returns the refreshed outputs; Destroy removes
// the real-world resource. Read fetches current outputs for drift detection
// and reports whether the resource still exists.
type Provisioner interface {
	Name() string
	Schemas() []schema.KindSchema
	Create(ctx context.Context, kind string, inputs map[string]any) (id string, outputs map[string]any, err error)
	Update(ctx context.Context, kind, id string, oldInputs, newInputs map[string]any) (outputs map[string]any, err error)
	Destroy(ctx context.Context, kind, id string) error
	Read(ctx context.Context, kind, id string, inputs map[string]any) (outputs map[string]any, exists bool, err error)
}
