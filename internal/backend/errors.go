package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// APIError is any non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (%d)", e.Status)
}

// Field looks up the first non-empty string value among keys, at the top level
// of the error body or nested under detail/data/error.
func (e *APIError) Field(keys ...string) string {
	var body map[string]any
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	return lookup(body, keys, 2)
}

func lookup(body map[string]any, keys []string, depth int) string {
	for _, k := range keys {
		if v := scalar(body[k]); v != "" {
			return v
		}
	}
	if depth == 0 {
		return ""
	}
	for _, nest := range []string{"detail", "data", "error"} {
		if inner, ok := body[nest].(map[string]any); ok {
			if v := lookup(inner, keys, depth-1); v != "" {
				return v
			}
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func newAPIError(status int, payload []byte) *APIError {
	e := &APIError{Status: status, Body: payload}
	e.Message = e.Field("detail", "message", "error", "msg")
	if e.Message == "" && len(payload) > 0 && !json.Valid(payload) {
		e.Message = strings.TrimSpace(string(payload))
	}
	return e
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
