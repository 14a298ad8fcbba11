package ir

// Declaration is a single declared resource: a logical name unique within
// the declaration set, a kind, and a set of attribute values, each either a
// literal or a reference to another declaration's attribute.
type Declaration struct {
	Name       string         `pkl:"name"`
	Kind       string         `pkl:"kind"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Count      int            `pkl:"count"`
	ForEach    map[string]any `pkl:"forEach"`
	Timeout    string         `pkl:"timeout"`
	Attributes map[string]any `pkl:"attributes"`
}

type Lifecycle struct {
	PreventDestroy bool     `pkl:"preventDestroy"`
	IgnoreChanges  []string `pkl:"ignoreChanges"`
}

// Values returns the declaration's attributes in tagged form.
func (d *Declaration) Values() map[string]Value {
	vals := make(map[string]Value, len(d.Attributes))
	for name, raw := range d.Attributes {
		vals[name] = ParseValue(raw)
	}
	return vals
}

// References returns every reference the declaration's attributes contain.
func (d *Declaration) References() []Reference {
	return CollectReferences(d.Attributes)
}
