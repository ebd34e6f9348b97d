package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/opsmesh/fleet-agent/pkg/modproto"
	"github.com/opsmesh/fleet-agent/pkg/modules"
)

const routingTestPrefix = "dispatcher:dispatch_routing_test"

// moduleMeta builds a minimal metadata document for test modules.
func moduleMeta(name string, actions ...string) modproto.Metadata {
	specs := make([]modproto.ActionSpec, len(actions))
	for i, a := range actions {
		specs[i] = modproto.ActionSpec{Name: a, Description: "Test action"}
	}
	return modproto.Metadata{
		Name:        name,
		Description: "Test module " + name,
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Actions:     specs,
	}
}

// taggedModule answers every action with its own name, so a response
// proves which module a request landed on.
func taggedModule(name string, actions ...string) *modules.Builtin {
	b := modules.NewBuiltin(moduleMeta(name, actions...))
	for _, a := range actions {
		action := a
		b.HandleFunc(action, func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			return map[string]string{"handled_by": name, "action": action}, nil
		})
	}
	return b
}

func requestEnvelope(id, module, action string) *Envelope {
	return &Envelope{
		ID:     id,
		Sender: "controller-1",
		Data:   json.RawMessage(fmt.Sprintf(`{"module":%q,"action":%q}`, module, action)),
	}
}

func handledBy(t *testing.T, resp *ResponseEnvelope) (string, string) {
	t.Helper()
	if resp.RequestError() != "" {
		t.Fatalf("%s - request failed: %s", routingTestPrefix, resp.RequestError())
	}
	var res map[string]string
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		t.Fatalf("%s - result decode: %v", routingTestPrefix, err)
	}
	return res["handled_by"], res["action"]
}

func TestDispatch_RoutesAcrossModules(t *testing.T) {
	reg := modules.NewRegistry()
	reg.Register(taggedModule("disk", "usage", "cleanup"))
	reg.Register(taggedModule("service", "restart"))
	reg.Register(taggedModule("package", "install"))
	d := NewDispatcher(reg, "agent-1")

	tests := []struct {
		module string
		action string
	}{
		{module: "disk", action: "usage"},
		{module: "disk", action: "cleanup"},
		{module: "service", action: "restart"},
		{module: "package", action: "install"},
	}
	for i, tt := range tests {
		resp := d.Dispatch(context.Background(), requestEnvelope(fmt.Sprintf("req-%d", i), tt.module, tt.action))
		gotModule, gotAction := handledBy(t, resp)
		if gotModule != tt.module || gotAction != tt.action {
			t.Errorf("%s - %s %s landed on %s %s", routingTestPrefix, tt.module, tt.action, gotModule, gotAction)
		}
	}
}

func TestDispatch_ActionStaysWithinModule(t *testing.T) {
	// Two modules declare the same action name; each request must stay
	// with its own module.
	reg := modules.NewRegistry()
	reg.Register(taggedModule("disk", "status"))
	reg.Register(taggedModule("service", "status"))
	d := NewDispatcher(reg, "agent-1")

	for _, module := range []string{"disk", "service"} {
		resp := d.Dispatch(context.Background(), requestEnvelope("req-"+module, module, "status"))
		gotModule, _ := handledBy(t, resp)
		if gotModule != module {
			t.Errorf("%s - status for %s landed on %s", routingTestPrefix, module, gotModule)
		}
	}
}

func TestDispatch_ShadowingModuleReceivesTraffic(t *testing.T) {
	reg := modules.NewRegistry()
	reg.Register(taggedModule("report", "generate"))
	reg.Register(taggedModule("report", "generate")) // replaces the first

	if reg.Len() != 1 {
		t.Fatalf("%s - Len() = %d, want 1 after replacement", routingTestPrefix, reg.Len())
	}
	d := NewDispatcher(reg, "agent-1")
	resp := d.Dispatch(context.Background(), requestEnvelope("req-1", "report", "generate"))
	if gotModule, _ := handledBy(t, resp); gotModule != "report" {
		t.Errorf("%s - handled by %s", routingTestPrefix, gotModule)
	}
}

func TestEnvelope_Unmarshal(t *testing.T) {
	raw := `{
		"id": "req-1",
		"sender": "controller-7",
		"data": {"module": "puppet", "action": "run", "params": {"env": [], "flags": []}},
		"debug": ["queued at 2026-08-25T10:00:00Z"]
	}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("%s - unmarshal envelope: %v", routingTestPrefix, err)
	}
	if env.ID != "req-1" || env.Sender != "controller-7" {
		t.Errorf("%s - envelope = %q %q", routingTestPrefix, env.ID, env.Sender)
	}
	if len(env.Debug) != 1 {
		t.Errorf("%s - debug = %v", routingTestPrefix, env.Debug)
	}

	var req ActionRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("%s - unmarshal data: %v", routingTestPrefix, err)
	}
	if req.Module != "puppet" || req.Action != "run" {
		t.Errorf("%s - request = %q %q", routingTestPrefix, req.Module, req.Action)
	}
	if string(req.Params) != `{"env": [], "flags": []}` {
		t.Errorf("%s - params = %s", routingTestPrefix, req.Params)
	}
}
