// Package diff computes structural differences between two payload trees.
//
// Objects are compared member by member and arrays by index position. A value
// that moves to another index shows up as per-position changes; detecting
// moves is left to domain layers such as package signal.
package diff

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kairos-watch/capture/pkg/value"
)

// Change is a single differing leaf. Before or After is absent when the path
// exists on only one side.
type Change struct {
	Path   string
	Before value.Value
	After  value.Value
}

type changeJSON struct {
	Path   string       `json:"path"`
	Before *value.Value `json:"before,omitempty"`
	After  *value.Value `json:"after,omitempty"`
}

// MarshalJSON omits before/after when that side is absent, so absent and
// null stay distinguishable once persisted.
func (c Change) MarshalJSON() ([]byte, error) {
	out := changeJSON{Path: c.Path}
	if !c.Before.IsAbsent() {
		b := c.Before
		out.Before = &b
	}
	if !c.After.IsAbsent() {
		a := c.After
		out.After = &a
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a Change written by MarshalJSON. A member that is
// present but null decodes as null, a missing member as absent.
func (c *Change) UnmarshalJSON(data []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Change{}
	if raw, ok := in["path"]; ok {
		if err := json.Unmarshal(raw, &c.Path); err != nil {
			return err
		}
	}
	if raw, ok := in["before"]; ok {
		v, err := value.Parse(raw)
		if err != nil {
			return err
		}
		c.Before = v
	}
	if raw, ok := in["after"]; ok {
		v, err := value.Parse(raw)
		if err != nil {
			return err
		}
		c.After = v
	}
	return nil
}

// Diff returns every path whose value differs between before and after,
// stably sorted by path. Diff(x, x) is always empty.
func Diff(before, after value.Value) []Change {
	var changes []Change
	walk("", before, after, &changes)
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

func walk(path string, before, after value.Value, out *[]Change) {
	switch {
	case before.Kind() == value.KindObject && after.Kind() == value.KindObject:
		for _, key := range unionKeys(before, after) {
			walk(joinKey(path, key), before.Get(key), after.Get(key), out)
		}
	case before.Kind() == value.KindArray && after.Kind() == value.KindArray:
		n := max(before.Len(), after.Len())
		for i := 0; i < n; i++ {
			walk(path+"["+strconv.Itoa(i)+"]", before.Index(i), after.Index(i), out)
		}
	default:
		if !value.Equal(before, after) {
			*out = append(*out, Change{Path: path, Before: before, After: after})
		}
	}
}

func unionKeys(a, b value.Value) []string {
	seen := make(map[string]struct{}, a.Len()+b.Len())
	keys := make([]string, 0, a.Len()+b.Len())
	for _, k := range a.Keys() {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, k := range b.Keys() {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

var plainKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// joinKey appends an object member to path. Keys that would be ambiguous in
// dotted form are written in bracket notation.
func joinKey(path, key string) string {
	if plainKey.MatchString(key) {
		if path == "" {
			return key
		}
		return path + "." + key
	}
	var sb strings.Builder
	sb.WriteString(path)
	sb.WriteByte('[')
	sb.WriteString(strconv.Quote(key))
	sb.WriteByte(']')
	return sb.String()
}
