package modproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ActionFunc handles one module action. The returned value is marshaled as
// the result document; a returned error becomes an error result and a
// non-zero exit.
type ActionFunc func(ctx context.Context, inv *Invocation) (interface{}, error)

// Runtime implements the executable half of the module protocol so a module
// binary only supplies metadata and action handlers. A module's main is
// os.Exit(rt.Main(os.Args)).
type Runtime struct {
	meta     Metadata
	handlers map[string]ActionFunc
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

// NewRuntime creates a Runtime wired to the process's standard streams.
func NewRuntime(meta Metadata) *Runtime {
	return &Runtime{
		meta:     meta,
		handlers: make(map[string]ActionFunc),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// HandleFunc registers the handler for an action.
func (rt *Runtime) HandleFunc(action string, fn ActionFunc) {
	rt.handlers[action] = fn
}

// SetIO replaces the runtime's streams; used by tests and embedders.
func (rt *Runtime) SetIO(stdin io.Reader, stdout, stderr io.Writer) {
	rt.stdin = stdin
	rt.stdout = stdout
	rt.stderr = stderr
}

// Main runs one invocation and returns the process exit status. args is the
// full argument vector; args[1] selects the action, defaulting to the
// reserved metadata action.
func (rt *Runtime) Main(args []string) int {
	action := MetadataAction
	if len(args) > 1 && args[1] != "" {
		action = args[1]
	}

	if action == MetadataAction {
		data, err := json.Marshal(rt.meta)
		if err != nil {
			fmt.Fprintf(rt.stderr, "cannot encode metadata: %v\n", err)
			return 1
		}
		fmt.Fprintln(rt.stdout, string(data))
		return 0
	}

	raw, err := io.ReadAll(rt.stdin)
	if err != nil {
		return rt.finish(nil, NewErrorResult(ErrorInvalidJSON, fmt.Sprintf("cannot read the invocation document: %v", err)))
	}
	var inv Invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return rt.finish(nil, NewErrorResult(ErrorInvalidJSON, fmt.Sprintf("the invocation document is not valid JSON: %v", err)))
	}
	if inv.Action == "" {
		inv.Action = action
	}

	var capture *outputCapture
	if inv.OutputFiles != nil {
		capture, err = acquireOutput(inv.OutputFiles)
		if err != nil {
			fmt.Fprintf(rt.stderr, "cannot open output files: %v\n", err)
			return ExitOutputFilesError
		}
		rt.stdout = capture.stdout
		rt.stderr = capture.stderr
	}

	return rt.finish(capture, rt.runAction(action, &inv))
}

// runAction executes the handler, converting handler errors and panics into
// error results so the exit-status record is still written.
func (rt *Runtime) runAction(action string, inv *Invocation) (result interface{}) {
	fn, ok := rt.handlers[action]
	if !ok {
		return NewErrorResult(ErrorUnknownAction, fmt.Sprintf("unknown action: %s", action))
	}
	defer func() {
		if r := recover(); r != nil {
			result = NewErrorResult("", fmt.Sprintf("action %s panicked: %v", action, r))
		}
	}()
	out, err := fn(context.Background(), inv)
	if err != nil {
		return NewErrorResult("", err.Error())
	}
	return out
}

// finish writes the result document and, when output is redirected, the
// exit-status record. The exit status is non-zero exactly when the result
// carries a non-empty error field, so supervisors and shell callers can
// branch without parsing the document.
func (rt *Runtime) finish(capture *outputCapture, result interface{}) int {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(NewErrorResult("", fmt.Sprintf("cannot encode the result document: %v", err)))
	}

	code := 0
	if resultHasError(data) {
		code = 1
	}
	fmt.Fprintln(rt.stdout, string(data))
	if capture != nil {
		capture.finalize(code)
	}
	return code
}

// resultHasError reports whether a result document carries a non-empty
// error field.
func resultHasError(data []byte) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Error != ""
}
