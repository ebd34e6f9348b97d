// Package modules implements the agent's module layer: the module
// abstraction, the built-in modules and the registry that discovers
// external module executables.
package modules

import (
	"context"
	"encoding/json"

	"github.com/opsmesh/fleet-agent/pkg/modproto"
)

// Module error kinds.
const (
	ErrorValidation = "validation"
	ErrorExecution  = "execution"
)

// Module is one unit of invocable behavior, built-in or external.
type Module interface {
	// Name returns the name the module is registered under.
	Name() string
	// Metadata returns the module's metadata document.
	Metadata() modproto.Metadata
	// Invoke runs an action and returns its raw JSON result document.
	Invoke(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error)
}

// ModuleError is a structured error from module validation or
// execution.
type ModuleError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ModuleError) Error() string {
	return e.Kind + ": " + e.Message
}

// NewModuleError creates a new ModuleError.
func NewModuleError(kind, message string) *ModuleError {
	return &ModuleError{Kind: kind, Message: message}
}
