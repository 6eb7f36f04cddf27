package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Filter is a conjunction of equality predicates keyed by record field name. A record matches
// when every field exists on its variant and equals the given value.
type Filter map[string]string

// Matches reports whether r satisfies every predicate in f. An empty filter matches everything.
func (f Filter) Matches(r Record) bool {
	if r == nil {
		return false
	}
	for field, want := range f {
		got, ok := r.Field(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Keys returns the filter field names in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON accepts strings, numbers, and booleans as predicate values.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Filter, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			return fmt.Errorf("filter %q: unsupported value %v", k, v)
		}
	}
	*f = out
	return nil
}
