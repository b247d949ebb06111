package models

import "encoding/json"

// Attributes is a nested string-keyed map carried by buckets, components and
// assets. The top level is keyed by format or subsystem name ("maven2",
// "cache", "content", ...); each child is itself an Attributes map.
type Attributes map[string]interface{}

// Child returns the nested attribute map under key, creating it if absent.
func (a Attributes) Child(key string) Attributes {
	if v, ok := a[key]; ok {
		switch child := v.(type) {
		case Attributes:
			return child
		case map[string]interface{}:
			return Attributes(child)
		}
	}
	child := Attributes{}
	a[key] = child
	return child
}

// HasChild reports whether a nested map exists under key without creating it.
func (a Attributes) HasChild(key string) bool {
	if v, ok := a[key]; ok {
		switch v.(type) {
		case Attributes, map[string]interface{}:
			return true
		}
	}
	return false
}

// GetString returns the string value stored under key, or "" if absent or
// not a string.
func (a Attributes) GetString(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// GetInt64 returns the integer value stored under key. JSON decoding turns
// numbers into float64, so both representations are accepted.
func (a Attributes) GetInt64(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Set stores value under key. A nil value removes the key.
func (a Attributes) Set(key string, value interface{}) {
	if value == nil {
		delete(a, key)
		return
	}
	a[key] = value
}

// Clone returns a deep copy of the attribute tree.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		switch child := v.(type) {
		case Attributes:
			out[k] = child.Clone()
		case map[string]interface{}:
			out[k] = Attributes(child).Clone()
		default:
			out[k] = v
		}
	}
	return out
}

// EncodeAttributes serializes an attribute tree for a database column.
// Empty trees serialize to "" so that absent and empty are stored the same.
func EncodeAttributes(a Attributes) (string, error) {
	if len(a) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAttributes parses a database column back into an attribute tree.
func DecodeAttributes(raw string) (Attributes, error) {
	if raw == "" {
		return Attributes{}, nil
	}
	var a Attributes
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return a, nil
}
