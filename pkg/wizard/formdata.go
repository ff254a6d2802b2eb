package wizard

import (
	"fmt"
	"strings"
)

// FormData is the accumulated bag of values entered during a session.
// Values are strings, booleans or structured values decoded from JSON
// (e.g. the existing loans list).
type FormData map[string]any

// Merge copies every key of partial into d, overwriting existing values.
func (d FormData) Merge(partial map[string]any) {
	for k, v := range partial {
		d[k] = v
	}
}

// Clone returns a shallow copy of d.
func (d FormData) Clone() FormData {
	out := make(FormData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the value of key rendered as a trimmed string.
func (d FormData) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Has reports whether key holds a present, non-empty value.
func (d FormData) Has(key string) bool {
	v, ok := d[key]
	if !ok {
		return false
	}
	return !isEmptyValue(v)
}

// Flag reports whether key holds a boolean true or the string "true".
func (d FormData) Flag(key string) bool {
	switch t := d[key].(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}
