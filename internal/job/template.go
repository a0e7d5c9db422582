package job

import "slices"

// Template is an ordered set of attribute values. Names keep the order in
// which they were first set. A Template is not safe for concurrent use.
type Template struct {
	names  []string
	values map[string][]string
}

// NewTemplate returns an empty template.
func NewTemplate() *Template {
	return &Template{values: make(map[string][]string)}
}

// Set overwrites the values of name.
func (t *Template) Set(name string, values ...string) {
	if _, ok := t.values[name]; !ok {
		t.names = append(t.names, name)
	}
	t.values[name] = slices.Clone(values)
}

// Get returns a copy of the values of name.
func (t *Template) Get(name string) ([]string, bool) {
	v, ok := t.values[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Value returns the first value of name, or "" when unset.
func (t *Template) Value(name string) string {
	if v := t.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether name is set.
func (t *Template) Has(name string) bool {
	_, ok := t.values[name]
	return ok
}

// Names returns the set attribute names in first-set order.
func (t *Template) Names() []string {
	return slices.Clone(t.names)
}

// Len returns the number of set attributes.
func (t *Template) Len() int {
	return len(t.names)
}

// Clone returns a deep copy. Submitted jobs keep a clone so later template
// changes never affect them.
func (t *Template) Clone() *Template {
	c := &Template{
		names:  slices.Clone(t.names),
		values: make(map[string][]string, len(t.values)),
	}
	for name, v := range t.values {
		c.values[name] = slices.Clone(v)
	}
	return c
}
