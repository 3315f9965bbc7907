// Package props implements the ordered, typed attribute maps used as
// service properties and as remote event payloads.
package props

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
)

// Version is a dotted-tuple version value, comparable component by component.
type Version struct {
	Major, Minor, Micro int
	Qualifier           string
}

// ParseVersion parses a "major.minor.micro[.qualifier]" string.
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.SplitN(s, ".", 4)
	nums := make([]int, 3)
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return v, fmt.Errorf("props: invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Micro = nums[0], nums[1], nums[2]
	if len(parts) == 4 {
		v.Qualifier = parts[3]
	}
	return v, nil
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Qualifier != "" {
		s += "." + v.Qualifier
	}
	return s
}

// Compare returns -1, 0, or 1 comparing v to other, ignoring qualifier.
func (v Version) Compare(other Version) int {
	for _, pair := range [][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Micro, other.Micro}} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Properties is an ordered, case-sensitive string-to-typed-value map.
// It is not safe for concurrent use; callers Copy before sharing across
// goroutines, matching the teacher's events.Event.Metadata convention of
// passing plain maps by value at publish time.
type Properties struct {
	m *orderedmap.OrderedMap[string, any]
}

// New returns an empty Properties.
func New() *Properties {
	return &Properties{m: orderedmap.NewOrderedMap[string, any]()}
}

// Set inserts or replaces key's value. A duplicate insert replaces the
// value but keeps the original insertion position.
func (p *Properties) Set(key string, value any) {
	p.m.Set(key, value)
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (any, bool) {
	return p.m.Get(key)
}

// GetString returns the value for key coerced to a string, or def if
// absent or not a string.
func (p *Properties) GetString(key, def string) string {
	v, ok := p.m.Get(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetLong returns the value for key coerced to int64, or def if absent
// or not numeric.
func (p *Properties) GetLong(key string, def int64) int64 {
	v, ok := p.m.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return def
}

// Has reports whether key is present, for presence-test filter matching.
func (p *Properties) Has(key string) bool {
	_, ok := p.m.Get(key)
	return ok
}

// Delete removes key, returning whether it was present.
func (p *Properties) Delete(key string) bool {
	return p.m.Delete(key)
}

// Keys returns keys in insertion order.
func (p *Properties) Keys() []string {
	keys := make([]string, 0, p.m.Len())
	for el := p.m.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	return keys
}

// Len returns the number of entries.
func (p *Properties) Len() int {
	return p.m.Len()
}

// Copy returns a deep-enough copy safe to hand to another goroutine.
func (p *Properties) Copy() *Properties {
	out := New()
	for el := p.m.Front(); el != nil; el = el.Next() {
		out.Set(el.Key, el.Value)
	}
	return out
}

// Save renders Properties in the line-oriented "key=value" format, one
// entry per line, escaping '\\', '=', '#' and every space with a
// backslash. A Load(Save(p)) round trip reproduces the same keys in the
// same order, with every value loaded back as a string.
func (p *Properties) Save() string {
	var b strings.Builder
	for el := p.m.Front(); el != nil; el = el.Next() {
		b.WriteString(escape(el.Key))
		b.WriteByte('=')
		b.WriteString(escape(fmt.Sprintf("%v", el.Value)))
		b.WriteByte('\n')
	}
	return b.String()
}

// Load parses the format produced by Save. Lines beginning with '#' are
// comments; blank lines are skipped. All loaded values are strings -
// callers that need typed values set them directly via Set.
func Load(s string) (*Properties, error) {
	p := New()
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := unescapedIndex(line)
		if idx < 0 {
			return nil, fmt.Errorf("props: malformed line %q", line)
		}
		key := unescape(line[:idx])
		value := unescape(line[idx+1:])
		p.Set(key, value)
	}
	return p, nil
}

func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '=', '#':
			b.WriteByte('\\')
			b.WriteRune(r)
		case ' ':
			b.WriteString(`\ `)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescapedIndex(s string) int {
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '=' {
			return i
		}
	}
	return -1
}
