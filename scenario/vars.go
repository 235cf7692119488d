package scenario

import (
	"regexp"
	"sort"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces ${name} placeholders in every string inside v, walking
// nested maps and slices. It returns the expanded copy and the sorted names
// of placeholders that had no value; those are left in place.
func Expand(v any, vars map[string]string) (any, []string) {
	missing := map[string]bool{}
	out := expand(v, vars, missing)

	names := make([]string, 0, len(missing))
	for n := range missing {
		names = append(names, n)
	}
	sort.Strings(names)
	return out, names
}

func expand(v any, vars map[string]string, missing map[string]bool) any {
	switch v := v.(type) {
	case string:
		return placeholderRe.ReplaceAllStringFunc(v, func(m string) string {
			name := m[2 : len(m)-1]
			val, ok := vars[name]
			if !ok {
				missing[name] = true
				return m
			}
			return val
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = expand(e, vars, missing)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = expand(e, vars, missing)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = expand(e, vars, missing).(string)
		}
		return out
	default:
		return v
	}
}
