package ir

import (
	"time"

	"github.com/google/uuid"
)

// CurrentStateVersion is the state format version written by this build.
const CurrentStateVersion = 1

// State is the durable record of the last-known real-world attributes for
// every resource previously created, keyed by logical name.
type State struct {
	Version int                        `json:"version"`
	Serial  uint64                     `json:"serial"`
	Lineage string                     `json:"lineage"`
	Records map[string]*ResourceRecord `json:"records"`
	Outputs map[string]any             `json:"outputs,omitempty"`
}

// ResourceRecord is the persisted state of one resource. ID is the opaque
// provider-assigned identifier; Serial increments on every write and backs
// concurrent-modification detection.
type ResourceRecord struct {
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	Provider     string         `json:"provider"`
	ID           string         `json:"id"`
	Inputs       map[string]any `json:"inputs"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Serial       uint64         `json:"serial"`
	Tainted      bool           `json:"tainted,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// NewState returns an empty state with a fresh lineage.
func NewState() *State {
	return &State{
		Version: CurrentStateVersion,
		Lineage: uuid.NewString(),
		Records: make(map[string]*ResourceRecord),
		Outputs: make(map[string]any),
	}
}

// Record looks up the record for a logical name.
func (s *State) Record(name string) (*ResourceRecord, bool) {
	rec, ok := s.Records[name]
	return rec, ok
}

// SetRecord upserts a record and bumps the state serial. At most one record
// per logical name can exist.
func (s *State) SetRecord(rec *ResourceRecord) {
	if s.Records == nil {
		s.Records = make(map[string]*ResourceRecord)
	}
	s.Records[rec.Name] = rec
	s.Serial++
}

// RemoveRecord deletes the record for a logical name, if present.
func (s *State) RemoveRecord(name string) {
	if _, ok := s.Records[name]; !ok {
		return
	}
	delete(s.Records, name)
	s.Serial++
}

// Names returns the logical names of all records, unordered.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.Records))
	for name := range s.Records {
		names = append(names, name)
	}
	return names
}

// DeepCopy clones the state, including record attribute maps.
func (s *State) DeepCopy() *State {
	clone := &State{
		Version: s.Version,
		Serial:  s.Serial,
		Lineage: s.Lineage,
		Records: make(map[string]*ResourceRecord, len(s.Records)),
		Outputs: copyAnyMap(s.Outputs),
	}
	for name, rec := range s.Records {
		clone.Records[name] = rec.DeepCopy()
	}
	return clone
}

// DeepCopy clones a record, including its attribute maps.
func (r *ResourceRecord) DeepCopy() *ResourceRecord {
	clone := *r
	clone.Inputs = copyAnyMap(r.Inputs)
	clone.Outputs = copyAnyMap(r.Outputs)
	clone.Dependencies = append([]string(nil), r.Dependencies...)
	return &clone
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyAnyValue(v)
	}
	return out
}

func copyAnyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyAnyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyAnyValue(item)
		}
		return out
	default:
		return v
	}
}
