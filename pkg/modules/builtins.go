package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/opsmesh/fleet-agent/pkg/modproto"
)

// BuiltinAction runs one built-in action.
type BuiltinAction func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Builtin is an in-process module assembled from action functions.
type Builtin struct {
	meta     modproto.Metadata
	handlers map[string]BuiltinAction
}

// NewBuiltin creates an empty built-in module for the given metadata.
func NewBuiltin(meta modproto.Metadata) *Builtin {
	return &Builtin{meta: meta, handlers: make(map[string]BuiltinAction)}
}

// HandleFunc registers the function behind an action.
func (b *Builtin) HandleFunc(action string, fn BuiltinAction) {
	b.handlers[action] = fn
}

func (b *Builtin) Name() string { return b.meta.Name }

func (b *Builtin) Metadata() modproto.Metadata { return b.meta }

func (b *Builtin) Invoke(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error) {
	fn, ok := b.handlers[action]
	if !ok {
		return nil, NewModuleError(ErrorValidation, fmt.Sprintf("unknown action: %s %s", b.meta.Name, action))
	}
	result, err := fn(ctx, params)
	if err != nil {
		var modErr *ModuleError
		if errors.As(err, &modErr) {
			return nil, modErr
		}
		return nil, NewModuleError(ErrorExecution, err.Error())
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, NewModuleError(ErrorExecution, fmt.Sprintf("marshaling result of %s %s: %v", b.meta.Name, action, err))
	}
	return data, nil
}

// EchoModule returns the argument it is given. The round-trip proves
// an agent is reachable and dispatching.
func EchoModule() *Builtin {
	b := NewBuiltin(modproto.Metadata{
		Name:        "echo",
		Description: "Returns the argument it is given",
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Actions: []modproto.ActionSpec{{
			Name:        "echo",
			Description: "Echoes the argument back",
			Input: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"argument": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"argument"},
			},
			Results: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"outcome": map[string]interface{}{"type": "string"},
				},
			},
		}},
	})
	b.HandleFunc("echo", func(_ context.Context, params json.RawMessage) (interface{}, error) {
		var input struct {
			Argument *string `json:"argument"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &input); err != nil {
				return nil, NewModuleError(ErrorValidation, fmt.Sprintf("invalid echo input: %v", err))
			}
		}
		if input.Argument == nil {
			return nil, NewModuleError(ErrorValidation, "echo requires a string argument")
		}
		return map[string]string{"outcome": *input.Argument}, nil
	})
	return b
}

// PingModule answers with the agent's current time.
func PingModule() *Builtin {
	b := NewBuiltin(modproto.Metadata{
		Name:        "ping",
		Description: "Answers with the time the agent handled the request",
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Actions: []modproto.ActionSpec{{
			Name:        "ping",
			Description: "Returns a pong with the handling timestamp",
			Results: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pong": map[string]interface{}{"type": "string"},
				},
			},
		}},
	})
	b.HandleFunc("ping", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		return map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)}, nil
	})
	return b
}

// InventoryModule reports basic facts about the host.
func InventoryModule() *Builtin {
	b := NewBuiltin(modproto.Metadata{
		Name:        "inventory",
		Description: "Reports basic facts about the host",
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Actions: []modproto.ActionSpec{{
			Name:        "inventory",
			Description: "Returns the host facts",
			Results: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"facts": map[string]interface{}{"type": "object"},
				},
			},
		}},
	})
	b.HandleFunc("inventory", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		return map[string]interface{}{
			"facts": map[string]interface{}{
				"hostname":     hostname,
				"kernel":       runtime.GOOS,
				"architecture": runtime.GOARCH,
				"cpus":         runtime.NumCPU(),
			},
		}, nil
	})
	return b
}

// StatusModule reports the agent's own liveness information from
// values injected at startup.
func StatusModule(instanceID, version string, started time.Time) *Builtin {
	b := NewBuiltin(modproto.Metadata{
		Name:        "status",
		Description: "Reports the agent's instance id, version and uptime",
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Actions: []modproto.ActionSpec{{
			Name:        "status",
			Description: "Returns the agent status",
			Results: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"instance_id":    map[string]interface{}{"type": "string"},
					"version":        map[string]interface{}{"type": "string"},
					"status":         map[string]interface{}{"type": "string"},
					"uptime_seconds": map[string]interface{}{"type": "number"},
				},
			},
		}},
	})
	b.HandleFunc("status", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		return map[string]interface{}{
			"instance_id":    instanceID,
			"version":        version,
			"status":         "running",
			"uptime_seconds": int(time.Since(started).Seconds()),
		}, nil
	})
	return b
}
