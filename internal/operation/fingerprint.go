package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the stable identity of an operation from its
// normalized query text and variables. Variables are serialized with
// lexicographically sorted keys at every nesting level, so two deep-equal
// variable maps hash identically regardless of insertion order. The hash is
// xxhash64, rendered as 16 hex characters; collision resistance here is a
// correctness property, not a security one.
func Fingerprint(normalizedQuery string, variables map[string]interface{}) (string, error) {
	h := xxhash.New()
	h.WriteString(normalizedQuery)
	h.WriteString("|")

	if len(variables) > 0 {
		canonical, err := canonicalJSON(variables)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidVariables, err)
		}
		h.Write(canonical)
	}

	return strconv.FormatUint(h.Sum64(), 16), nil
}

// canonicalJSON serializes a value as JSON with recursively sorted object
// keys. The value is first round-tripped through encoding/json so arbitrary
// Go types reduce to the generic JSON shape; numbers are kept as their
// original text to avoid float formatting instability.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(t.String())
		return nil

	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}
