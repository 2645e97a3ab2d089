package user

import "strings"

// MultiValue is a property that can carry several alternate values with one
// marked preferred. Matching is case-insensitive but stored casing is kept.
type MultiValue struct {
	Name      string   `json:"name"`
	Values    []string `json:"values"`
	Preferred int      `json:"preferred"`
}

// NewMultiValue builds a named property with optional initial values.
func NewMultiValue(name string, values ...string) MultiValue {
	return MultiValue{Name: name, Values: values}
}

// Value returns the preferred value, or "" when the property is empty.
func (m *MultiValue) Value() string {
	if m.Preferred < 0 || m.Preferred >= len(m.Values) {
		return ""
	}
	return m.Values[m.Preferred]
}

// SetValue adds v if absent and marks it preferred.
func (m *MultiValue) SetValue(v string) {
	if !m.HasValue(v) {
		m.AddValue(v)
	}
	m.SetPreferred(v)
}

// HasValue reports whether v is already one of the alternates.
func (m *MultiValue) HasValue(v string) bool {
	for _, existing := range m.Values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// SetPreferred marks an existing alternate as preferred. It reports false when
// v is not in the list.
func (m *MultiValue) SetPreferred(v string) bool {
	for i, existing := range m.Values {
		if strings.EqualFold(existing, v) {
			m.Preferred = i
			return true
		}
	}
	return false
}

// AddValue appends a new alternate.
func (m *MultiValue) AddValue(v string) {
	m.Values = append(m.Values, v)
}
