// Package modproto defines the wire contract between the agent and external
// module executables: the metadata document a module prints for the reserved
// metadata action, the invocation document it reads from stdin, and the
// result document it writes to stdout. The package also provides a Runtime
// implementing the executable half of the contract for modules written in Go.
package modproto

import (
	"encoding/json"
	"fmt"
)

// MetadataAction is the reserved action that prints the module's metadata
// document. It is the default when no action argument is given and must be
// side-effect free.
const MetadataAction = "metadata"

// ExitOutputFilesError is the reserved exit status for the one failure a
// module cannot report through its own output files: failing to open them.
// It must not be used for any other condition.
const ExitOutputFilesError = 5

// Error types a module runtime reports as data inside the result document.
const (
	ErrorInvalidJSON   = "invalid_json"
	ErrorUnknownAction = "unknown_action"
)

// Metadata describes an external module: what it does, which actions it
// exposes, and the shape of its configuration. Name is optional; a module
// without one is registered under its executable's file name.
type Metadata struct {
	Name          string                 `json:"name,omitempty"`
	Description   string                 `json:"description"`
	Version       string                 `json:"version,omitempty"`
	APIVersion    string                 `json:"api_version,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Actions       []ActionSpec           `json:"actions"`
}

// ActionSpec describes a single module action. Input and results schemas are
// carried as opaque documents; modules validate their own input and report
// violations as error data.
type ActionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Results     map[string]interface{} `json:"results,omitempty"`
}

// Action returns the ActionSpec for the named action, or nil if the module
// does not declare it.
func (m *Metadata) Action(name string) *ActionSpec {
	for i := range m.Actions {
		if m.Actions[i].Name == name {
			return &m.Actions[i]
		}
	}
	return nil
}

// Validate checks the structural requirements on a metadata document.
func (m *Metadata) Validate() error {
	if m.Description == "" {
		return fmt.Errorf("metadata has no description")
	}
	if len(m.Actions) == 0 {
		return fmt.Errorf("metadata declares no actions")
	}
	seen := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		if a.Name == "" {
			return fmt.Errorf("metadata declares an action without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("metadata declares action %s twice", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// OutputFiles holds the paths for redirected module output. When present in
// an invocation all three are set. The exitcode file is written strictly
// last; it becoming non-empty is the supervisor's completion signal.
type OutputFiles struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Exitcode string `json:"exitcode"`
}

// Invocation is the single JSON document an external module reads from
// stdin for any action other than metadata.
type Invocation struct {
	Action        string          `json:"action"`
	Input         json.RawMessage `json:"input,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	OutputFiles   *OutputFiles    `json:"output_files,omitempty"`
}

// ErrorResult is a result document reporting a failure as data rather than
// as a process crash.
type ErrorResult struct {
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error"`
}

// NewErrorResult creates an ErrorResult.
func NewErrorResult(errorType, message string) *ErrorResult {
	return &ErrorResult{ErrorType: errorType, Error: message}
}
