// Package hashing implements the canonical serialization and the two hash
// functions the data model is built on (spec §3-inv-1, §3-inv-2, §4.B):
// content_hash (of a payload) and commit_hash (of a commit's field tuple).
package hashing

import (
	"encoding/json"
	"sort"
)

// Canonicalize converts an arbitrary JSON-able value into a form with
// lexicographically sorted object keys, no insignificant whitespace, and a
// single normalized representation for numbers and strings -- the form
// content_hash and commit_hash are computed over (spec §4.B).
//
// json.Marshal already produces minimal whitespace and a single number
// representation for Go's native types, and it sorts map keys; the one
// thing it does not sort is struct fields, which it emits in declaration
// order. Canonicalize instead works by decoding into a generic tree and
// re-encoding a sorted-key variant so the result is stable regardless of
// how the caller's struct tags order fields in a nested map value.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return encodeCanonical(generic)
}

func encodeCanonical(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := encodeCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := encodeCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		// Scalars (string, float64, bool, nil) and anything else JSON already
		// renders in one canonical way.
		return json.Marshal(val)
	}
}
