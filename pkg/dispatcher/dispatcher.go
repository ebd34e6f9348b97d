package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opsmesh/fleet-agent/pkg/modules"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes COMMS request envelopes to registered modules.
type Dispatcher struct {
	registry *modules.Registry
	identity string
}

// NewDispatcher creates a Dispatcher answering as identity.
func NewDispatcher(reg *modules.Registry, identity string) *Dispatcher {
	return &Dispatcher{registry: reg, identity: identity}
}

// Dispatch handles one request envelope and always returns a response
// envelope: request failures become error payloads, never dropped
// messages. Module execution is not bounded here; a slow module
// delays the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) *ResponseEnvelope {
	slog.Info(fmt.Sprintf("%s - id=%s sender=%s", logPrefix, env.ID, env.Sender))

	if err := env.Validate(); err != nil {
		return d.errorResponse(env, "", "", err.Error())
	}

	if len(env.Data) == 0 {
		return d.errorResponse(env, "", "", "no data")
	}

	var req ActionRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return d.errorResponse(env, "", "", "data is not in JSON format")
	}
	if req.Module == "" {
		return d.errorResponse(env, "", "", "invalid request: missing required field module")
	}
	if req.Action == "" {
		return d.errorResponse(env, req.Module, "", "invalid request: missing required field action")
	}

	mod, ok := d.registry.Get(req.Module)
	if !ok {
		return d.errorResponse(env, req.Module, req.Action, "unknown module: "+req.Module)
	}

	result, err := mod.Invoke(ctx, req.Action, req.Params)
	if err != nil {
		var modErr *modules.ModuleError
		if errors.As(err, &modErr) {
			return d.errorResponse(env, req.Module, req.Action, modErr.Message)
		}
		return d.errorResponse(env, req.Module, req.Action, err.Error())
	}

	// The result passes through as-is, even when the module reported a
	// domain error as data.
	return &ResponseEnvelope{
		ID:     env.ID,
		Sender: d.identity,
		Data:   result,
		Debug:  debugEntries(env.Debug),
		module: req.Module,
		action: req.Action,
	}
}

func (d *Dispatcher) errorResponse(env *Envelope, module, action, message string) *ResponseEnvelope {
	slog.Warn(fmt.Sprintf("%s - Request %s from %s failed: %s", logPrefix, env.ID, env.Sender, message))
	resp := NewErrorResponse(env.ID, d.identity, message)
	resp.Debug = debugEntries(env.Debug)
	resp.module = module
	resp.action = action
	return resp
}

// NewErrorResponse builds a bare error response. It also serves
// requests that never decoded into an envelope.
func NewErrorResponse(id, sender, message string) *ResponseEnvelope {
	data, _ := json.Marshal(&ErrorData{Error: message})
	return &ResponseEnvelope{
		ID:         id,
		Sender:     sender,
		Data:       data,
		requestErr: message,
	}
}

func debugEntries(annotations []string) []DebugEntry {
	if len(annotations) == 0 {
		return nil
	}
	entries := make([]DebugEntry, len(annotations))
	for i, a := range annotations {
		entries[i] = DebugEntry{DebugData: a}
	}
	return entries
}
