package operation

import "encoding/json"

// Result is the discriminated outcome of one operation execution. Data and
// Errors may be simultaneously present: a well-formed response carrying a
// GraphQL errors array is not a failure and is still delivered (and cached)
// as-is.
type Result struct {
	Data   interface{} `json:"data"`
	Errors []Error     `json:"errors,omitempty"`

	// Raw is the unparsed response body, when the result came from a
	// transport that has one.
	Raw json.RawMessage `json:"-"`
}

// Error is a GraphQL-level error entry from a response errors array.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// HasErrors reports whether the response carried GraphQL-level errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// ErrorMessages returns the messages of all GraphQL-level errors.
func (r *Result) ErrorMessages() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return msgs
}
