package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terrane-io/terrane/internal/ir"
)

// ExpandForEach expands declarations with ForEach or Count set into
// individual declarations, one per instance. Runs before graph construction
// so every instance has its own logical name.
func ExpandForEach(decls []*ir.Declaration) []*ir.Declaration {
	var expanded []*ir.Declaration

	for _, decl := range decls {
		if decl.Count > 0 {
			for i := 0; i < decl.Count; i++ {
				clone := cloneDeclaration(decl)
				clone.Name = fmt.Sprintf("%s[%d]", decl.Name, i)
				clone.Attributes = substituteIndex(clone.Attributes, i)
				expanded = append(expanded, clone)
			}
		} else if len(decl.ForEach) > 0 {
			keys := make([]string, 0, len(decl.ForEach))
			for key := range decl.ForEach {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				clone := cloneDeclaration(decl)
				clone.Name = fmt.Sprintf("%s[%q]", decl.Name, key)
				clone.Attributes = substituteEach(clone.Attributes, key, decl.ForEach[key])
				expanded = append(expanded, clone)
			}
		} else {
			expanded = append(expanded, decl)
		}
	}

	return expanded
}

func cloneDeclaration(decl *ir.Declaration) *ir.Declaration {
	clone := &ir.Declaration{
		Name:     decl.Name,
		Kind:     decl.Kind,
		Provider: decl.Provider,
		Count:    0,
		Timeout:  decl.Timeout,
	}
	if decl.Lifecycle != nil {
		clone.Lifecycle = &ir.Lifecycle{
			PreventDestroy: decl.Lifecycle.PreventDestroy,
			IgnoreChanges:  append([]string{}, decl.Lifecycle.IgnoreChanges...),
		}
	}
	clone.DependsOn = append([]string{}, decl.DependsOn...)
	clone.Attributes = deepCopyMap(decl.Attributes)
	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any)
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		clone := make([]any, len(val))
		for i, item := range val {
			clone[i] = deepCopyValue(item)
		}
		return clone
	default:
		return v
	}
}

func substituteIndex(attrs map[string]any, index int) map[string]any {
	return substituteAll(attrs, map[string]string{
		"${count.index}": fmt.Sprintf("%d", index),
	})
}

func substituteEach(attrs map[string]any, key string, value any) map[string]any {
	return substituteAll(attrs, map[string]string{
		"${each.key}":   key,
		"${each.value}": fmt.Sprintf("%v", value),
	})
}

func substituteAll(attrs map[string]any, replacements map[string]string) map[string]any {
	result := make(map[string]any)
	for k, v := range attrs {
		result[k] = substituteValue(v, replacements)
	}
	return result
}

func substituteValue(v any, replacements map[string]string) any {
	switch val := v.(type) {
	case string:
		result := val
		for old, newVal := range replacements {
			result = strings.ReplaceAll(result, old, newVal)
		}
		return result
	case map[string]any:
		return substituteAll(val, replacements)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = substituteValue(item, replacements)
		}
		return result
	default:
		return v
	}
}
