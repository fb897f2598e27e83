package expressions

import (
	"strconv"
	"strings"
)

// missingType is the sentinel returned for any path that does not resolve.
// It is distinct from nil so "present but null" and "absent" are
// distinguishable to comparison logic, while both render as empty in
// templates.
type missingType struct{}

func (missingType) String() string { return "" }

// Missing is the sentinel value for unresolved paths.
var Missing = missingType{}

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingType)
	return ok
}

// ResolvePath walks a dot-delimited path into nested maps and slices. Map
// segments try a case-sensitive lookup first, then case-insensitive. Numeric
// segments index into slices. Any miss returns Missing; ResolvePath never
// returns an error.
func ResolvePath(data any, path string) any {
	if path == "" {
		if data == nil {
			return Missing
		}
		return data
	}

	current := data
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return Missing
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				val, ok = lookupFold(v, seg)
			}
			if !ok {
				return Missing
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return Missing
			}
			current = v[idx]
		default:
			return Missing
		}
	}
	return current
}

// lookupFold retries a map lookup ignoring case. First match in arbitrary
// map order wins; user-authored paths that differ only by case are already
// ambiguous.
func lookupFold(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
