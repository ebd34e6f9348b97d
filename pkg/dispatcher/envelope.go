// Package dispatcher routes inbound COMMS request envelopes to
// registered modules and builds the response envelopes.
package dispatcher

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON wrapper around every inbound request.
type Envelope struct {
	ID     string          `json:"id"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
	Debug  []string        `json:"debug,omitempty"`
}

// Validate checks the envelope-level required fields.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope is missing required field id")
	}
	if e.Sender == "" {
		return fmt.Errorf("envelope is missing required field sender")
	}
	return nil
}

// ActionRequest is the data payload of a request envelope.
type ActionRequest struct {
	Module string          `json:"module"`
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DebugEntry wraps one request debug annotation in a response.
type DebugEntry struct {
	DebugData string `json:"debug_data"`
}

// ErrorData is the data payload of a request-level error response.
type ErrorData struct {
	Error string `json:"error"`
}

// ResponseEnvelope is the JSON wrapper around every outbound response.
// Data carries either the module's result document or an ErrorData
// object, never both.
type ResponseEnvelope struct {
	ID     string          `json:"id"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
	Debug  []DebugEntry    `json:"debug,omitempty"`

	// Bookkeeping for logging and events, not serialized.
	requestErr string
	module     string
	action     string
}

// RequestError returns the request-level error message carried in the
// data payload, or "" when Data is a module result.
func (r *ResponseEnvelope) RequestError() string { return r.requestErr }

// Request returns the module and action the response answers, as far
// as they were parseable from the request.
func (r *ResponseEnvelope) Request() (module, action string) {
	return r.module, r.action
}
