package tools

import (
	"encoding/json"
	"fmt"
)

// Result is the unified return type from tool execution. It serializes to the
// shape the model is taught to read: {"success": true, ...data} on success,
// {"success": false, "error": "..."} on failure. Failures are values, never
// run-level errors; the loop feeds them back to the model.
type Result struct {
	Success bool
	Error   string
	Data    map[string]interface{}
}

// OK builds a success result carrying the given payload fields.
func OK(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Errorf builds a failure result.
func Errorf(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// MarshalJSON flattens Data alongside the success/error fields.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// Payload returns the serialized result for use as tool-message content.
func (r *Result) Payload() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success": false, "error": "unserializable tool result"}`
	}
	return string(data)
}

// IsFailure reports whether a tool-message content string carries a failed
// result. Content that does not parse as a result object counts as success;
// only an explicit "success": false triggers feedback injection.
func IsFailure(content string) (reason string, failed bool) {
	var probe struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return "", false
	}
	if probe.Success != nil && !*probe.Success {
		reason = probe.Error
		if reason == "" {
			reason = "unknown error"
		}
		return reason, true
	}
	return "", false
}
