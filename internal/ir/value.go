package ir

import (
	"fmt"
	"strings"
)

// RefPrefix marks an attribute value as a reference to another declaration's
// attribute, e.g. "ref://network.id".
const RefPrefix = "ref://"

// Unknown is the placeholder for a value that is only known after the
// resource it comes from has been applied.
const Unknown = "(known after apply)"

// Reference names another declaration's logical name and one of its
// attributes (input or computed).
type Reference struct {
	Node      string
	Attribute string
}

func (r Reference) String() string {
	return RefPrefix + r.Node + "." + r.Attribute
}

// Value is a declared attribute value: either a literal or a reference.
type Value struct {
	lit any
	ref *Reference
}

// Literal wraps a plain value.
func Literal(v any) Value {
	return Value{lit: v}
}

// Ref builds a reference value.
func Ref(node, attribute string) Value {
	return Value{ref: &Reference{Node: node, Attribute: attribute}}
}

// ParseValue converts a raw decoded attribute value into its tagged form.
// Strings of the form "ref://name.attribute" become references; everything
// else, including composites that may embed reference strings, stays literal.
func ParseValue(raw any) Value {
	if s, ok := raw.(string); ok {
		if ref, ok := parseRefString(s); ok {
			return Value{ref: &ref}
		}
	}
	return Value{lit: raw}
}

// IsReference reports whether the value is a reference.
func (v Value) IsReference() bool {
	return v.ref != nil
}

// Reference returns the reference, if the value is one.
func (v Value) Reference() (Reference, bool) {
	if v.ref == nil {
		return Reference{}, false
	}
	return *v.ref, true
}

// LiteralValue returns the wrapped literal. For references it returns the
// canonical "ref://" string so values round-trip through serialization.
func (v Value) LiteralValue() any {
	if v.ref != nil {
		return v.ref.String()
	}
	return v.lit
}

// References returns every reference reachable from the value: the value
// itself when it is a reference, plus any reference strings nested inside
// composite literals.
func (v Value) References() []Reference {
	if v.ref != nil {
		return []Reference{*v.ref}
	}
	return collectRefs(v.lit)
}

func (v Value) String() string {
	if v.ref != nil {
		return v.ref.String()
	}
	return fmt.Sprintf("%v", v.lit)
}

func parseRefString(s string) (Reference, bool) {
	if !strings.HasPrefix(s, RefPrefix) {
		return Reference{}, false
	}
	rest := strings.TrimPrefix(s, RefPrefix)
	dot := strings.Index(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return Reference{}, false
	}
	return Reference{Node: rest[:dot], Attribute: rest[dot+1:]}, true
}

func collectRefs(raw any) []Reference {
	var refs []Reference
	switch val := raw.(type) {
	case string:
		if ref, ok := parseRefString(val); ok {
			refs = append(refs, ref)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, collectRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, collectRefs(v)...)
		}
	}
	return refs
}

// CollectReferences walks a raw attribute map and returns every reference it
// contains, in no particular order.
func CollectReferences(attrs map[string]any) []Reference {
	var refs []Reference
	for _, raw := range attrs {
		refs = append(refs, ParseValue(raw).References()...)
	}
	return refs
}
