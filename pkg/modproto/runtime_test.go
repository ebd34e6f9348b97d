package modproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const runtimeTestPrefix = "modproto:runtime_test"

func testMetadata() Metadata {
	return Metadata{
		Name:        "widget",
		Description: "Test widget module",
		Version:     "1.2.3",
		APIVersion:  "1.0.0",
		Actions: []ActionSpec{
			{Name: "spin", Description: "Spins the widget", Input: map[string]interface{}{"type": "object"}},
		},
	}
}

// runMain runs a Runtime against in-memory streams and returns the exit
// code plus captured stdout.
func runMain(t *testing.T, rt *Runtime, args []string, stdin string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rt.SetIO(strings.NewReader(stdin), &stdout, &stderr)
	code := rt.Main(args)
	return code, stdout.String()
}

func TestRuntime_MetadataAction(t *testing.T) {
	rt := NewRuntime(testMetadata())
	code, out := runMain(t, rt, []string{"widget", "metadata"}, "")

	if code != 0 {
		t.Fatalf("%s - metadata exit = %d, want 0", runtimeTestPrefix, code)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		t.Fatalf("%s - metadata output is not valid JSON: %v", runtimeTestPrefix, err)
	}
	if meta.Name != "widget" || meta.Description != "Test widget module" {
		t.Errorf("%s - metadata = %+v, want widget document", runtimeTestPrefix, meta)
	}
	if len(meta.Actions) != 1 || meta.Actions[0].Name != "spin" {
		t.Errorf("%s - metadata actions = %+v, want [spin]", runtimeTestPrefix, meta.Actions)
	}
}

func TestRuntime_MetadataIsDefaultAction(t *testing.T) {
	rt := NewRuntime(testMetadata())
	code, out := runMain(t, rt, []string{"widget"}, "")

	if code != 0 {
		t.Fatalf("%s - default invocation exit = %d, want 0", runtimeTestPrefix, code)
	}
	if !json.Valid([]byte(strings.TrimSpace(out))) {
		t.Errorf("%s - default invocation should print metadata JSON, got %q", runtimeTestPrefix, out)
	}
}

func TestRuntime_MetadataMatchesHandlers(t *testing.T) {
	// The action names in metadata must be exactly the actions the runtime
	// accepts as its first argument.
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		return map[string]string{"spun": "yes"}, nil
	})

	_, out := runMain(t, rt, []string{"widget", "metadata"}, "")
	var meta Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		t.Fatalf("%s - metadata decode: %v", runtimeTestPrefix, err)
	}
	for _, a := range meta.Actions {
		rt2 := NewRuntime(testMetadata())
		rt2.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
			return map[string]string{}, nil
		})
		code, _ := runMain(t, rt2, []string{"widget", a.Name}, `{"action":"`+a.Name+`","input":{}}`)
		if code != 0 {
			t.Errorf("%s - declared action %s rejected with exit %d", runtimeTestPrefix, a.Name, code)
		}
	}
}

func TestRuntime_InvalidStdin(t *testing.T) {
	rt := NewRuntime(testMetadata())
	code, out := runMain(t, rt, []string{"widget", "spin"}, "this is not json")

	if code != 1 {
		t.Errorf("%s - invalid stdin exit = %d, want 1", runtimeTestPrefix, code)
	}
	var res ErrorResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - error result is not valid JSON: %v", runtimeTestPrefix, err)
	}
	if res.ErrorType != ErrorInvalidJSON {
		t.Errorf("%s - error_type = %q, want %q", runtimeTestPrefix, res.ErrorType, ErrorInvalidJSON)
	}
	if res.Error == "" {
		t.Errorf("%s - expected non-empty error message", runtimeTestPrefix)
	}
}

func TestRuntime_UnknownAction(t *testing.T) {
	rt := NewRuntime(testMetadata())
	code, out := runMain(t, rt, []string{"widget", "fly"}, `{"action":"fly","input":{}}`)

	if code != 1 {
		t.Errorf("%s - unknown action exit = %d, want 1", runtimeTestPrefix, code)
	}
	var res ErrorResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - error result decode: %v", runtimeTestPrefix, err)
	}
	if res.ErrorType != ErrorUnknownAction {
		t.Errorf("%s - error_type = %q, want %q", runtimeTestPrefix, res.ErrorType, ErrorUnknownAction)
	}
}

func TestRuntime_ActionReceivesInvocation(t *testing.T) {
	rt := NewRuntime(testMetadata())
	var got *Invocation
	rt.HandleFunc("spin", func(_ context.Context, inv *Invocation) (interface{}, error) {
		got = inv
		return map[string]string{"ok": "yes"}, nil
	})

	stdin := `{"action":"spin","input":{"speed":7},"configuration":{"axis":"y"}}`
	code, out := runMain(t, rt, []string{"widget", "spin"}, stdin)

	if code != 0 {
		t.Fatalf("%s - exit = %d, want 0", runtimeTestPrefix, code)
	}
	if got == nil {
		t.Fatal(runtimeTestPrefix + " - handler was not invoked")
	}
	if string(got.Input) != `{"speed":7}` {
		t.Errorf("%s - input = %s, want speed document", runtimeTestPrefix, got.Input)
	}
	if string(got.Configuration) != `{"axis":"y"}` {
		t.Errorf("%s - configuration = %s, want axis document", runtimeTestPrefix, got.Configuration)
	}
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - result decode: %v", runtimeTestPrefix, err)
	}
	if res["ok"] != "yes" {
		t.Errorf("%s - result = %v, want ok=yes", runtimeTestPrefix, res)
	}
}

func TestRuntime_HandlerError(t *testing.T) {
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		return nil, fmt.Errorf("axle snapped")
	})

	code, out := runMain(t, rt, []string{"widget", "spin"}, `{"action":"spin"}`)

	if code != 1 {
		t.Errorf("%s - handler error exit = %d, want 1", runtimeTestPrefix, code)
	}
	var res ErrorResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - error result decode: %v", runtimeTestPrefix, err)
	}
	if res.Error != "axle snapped" {
		t.Errorf("%s - error = %q, want %q", runtimeTestPrefix, res.Error, "axle snapped")
	}
}

func TestRuntime_HandlerPanic(t *testing.T) {
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		panic("spindle on fire")
	})

	code, out := runMain(t, rt, []string{"widget", "spin"}, `{"action":"spin"}`)

	if code != 1 {
		t.Errorf("%s - panic exit = %d, want 1", runtimeTestPrefix, code)
	}
	if !strings.Contains(out, "spindle on fire") {
		t.Errorf("%s - error result should mention the panic, got %q", runtimeTestPrefix, out)
	}
}

func TestRuntime_ErrorAsDataExitsNonZero(t *testing.T) {
	// A handler that reports a failure through error fields still fails the
	// process, even without a Go error.
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		return NewErrorResult("widget_jammed", "the widget is jammed"), nil
	})

	code, out := runMain(t, rt, []string{"widget", "spin"}, `{"action":"spin"}`)

	if code != 1 {
		t.Errorf("%s - error-as-data exit = %d, want 1", runtimeTestPrefix, code)
	}
	var res ErrorResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%s - result decode: %v", runtimeTestPrefix, err)
	}
	if res.ErrorType != "widget_jammed" {
		t.Errorf("%s - error_type = %q, want widget_jammed", runtimeTestPrefix, res.ErrorType)
	}
}

func testOutputFiles(t *testing.T, dir string) *OutputFiles {
	t.Helper()
	return &OutputFiles{
		Stdout:   filepath.Join(dir, "stdout"),
		Stderr:   filepath.Join(dir, "stderr"),
		Exitcode: filepath.Join(dir, "exitcode"),
	}
}

func invocationWithOutputFiles(t *testing.T, files *OutputFiles) string {
	t.Helper()
	doc, err := json.Marshal(&Invocation{Action: "spin", Input: json.RawMessage(`{}`), OutputFiles: files})
	if err != nil {
		t.Fatalf("%s - marshal invocation: %v", runtimeTestPrefix, err)
	}
	return string(doc)
}

func TestRuntime_OutputFiles(t *testing.T) {
	dir := t.TempDir()
	files := testOutputFiles(t, dir)

	// A large payload checks that the stdout file is complete by the time
	// the exitcode file exists.
	large := strings.Repeat("x", 1<<20)
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		return map[string]string{"payload": large}, nil
	})

	code, inlineOut := runMain(t, rt, []string{"widget", "spin"}, invocationWithOutputFiles(t, files))

	if code != 0 {
		t.Fatalf("%s - exit = %d, want 0", runtimeTestPrefix, code)
	}
	if inlineOut != "" {
		t.Errorf("%s - redirected run wrote to inline stdout: %q", runtimeTestPrefix, inlineOut)
	}

	exitRaw, err := os.ReadFile(files.Exitcode)
	if err != nil {
		t.Fatalf("%s - exitcode file missing: %v", runtimeTestPrefix, err)
	}
	if strings.TrimSpace(string(exitRaw)) != "0" {
		t.Errorf("%s - exitcode file = %q, want 0", runtimeTestPrefix, exitRaw)
	}

	outRaw, err := os.ReadFile(files.Stdout)
	if err != nil {
		t.Fatalf("%s - stdout file missing: %v", runtimeTestPrefix, err)
	}
	var res map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(outRaw), &res); err != nil {
		t.Fatalf("%s - stdout file is not one JSON document: %v", runtimeTestPrefix, err)
	}
	if len(res["payload"]) != len(large) {
		t.Errorf("%s - payload truncated: got %d bytes, want %d", runtimeTestPrefix, len(res["payload"]), len(large))
	}

	if _, err := os.Stat(files.Stderr); err != nil {
		t.Errorf("%s - stderr file missing: %v", runtimeTestPrefix, err)
	}
}

func TestRuntime_OutputFilesOpenFailure(t *testing.T) {
	dir := t.TempDir()
	files := &OutputFiles{
		Stdout:   filepath.Join(dir, "missing", "stdout"),
		Stderr:   filepath.Join(dir, "missing", "stderr"),
		Exitcode: filepath.Join(dir, "missing", "exitcode"),
	}
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		return map[string]string{}, nil
	})

	code, out := runMain(t, rt, []string{"widget", "spin"}, invocationWithOutputFiles(t, files))

	if code != ExitOutputFilesError {
		t.Errorf("%s - open failure exit = %d, want %d", runtimeTestPrefix, code, ExitOutputFilesError)
	}
	if out != "" {
		t.Errorf("%s - open failure should write no result, got %q", runtimeTestPrefix, out)
	}
	if _, err := os.Stat(files.Exitcode); !os.IsNotExist(err) {
		t.Errorf("%s - exitcode file should not exist after open failure", runtimeTestPrefix)
	}
}

func TestRuntime_OutputFilesExitcodeOnPanic(t *testing.T) {
	dir := t.TempDir()
	files := testOutputFiles(t, dir)
	rt := NewRuntime(testMetadata())
	rt.HandleFunc("spin", func(_ context.Context, _ *Invocation) (interface{}, error) {
		panic("mid-run fault")
	})

	code, _ := runMain(t, rt, []string{"widget", "spin"}, invocationWithOutputFiles(t, files))

	if code != 1 {
		t.Errorf("%s - panic exit = %d, want 1", runtimeTestPrefix, code)
	}
	exitRaw, err := os.ReadFile(files.Exitcode)
	if err != nil {
		t.Fatalf("%s - exitcode record missing after panic: %v", runtimeTestPrefix, err)
	}
	if strings.TrimSpace(string(exitRaw)) != "1" {
		t.Errorf("%s - exitcode record = %q, want 1", runtimeTestPrefix, exitRaw)
	}
	outRaw, _ := os.ReadFile(files.Stdout)
	if !strings.Contains(string(outRaw), "mid-run fault") {
		t.Errorf("%s - redirected stdout should carry the error result, got %q", runtimeTestPrefix, outRaw)
	}
}
