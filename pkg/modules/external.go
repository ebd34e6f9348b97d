package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/opsmesh/fleet-agent/pkg/modconf"
	"github.com/opsmesh/fleet-agent/pkg/modproto"
)

const externalLogPrefix = "modules:external"

// supportedModuleAPI is the module API range this agent speaks.
const supportedModuleAPI = ">= 1.0.0, < 2.0.0"

// exitcodePollInterval paces the wait for the exit-status record in
// supervised invocations.
const exitcodePollInterval = 50 * time.Millisecond

// ExternalModule is a module backed by an executable on disk, spoken
// to over the stdin/stdout protocol.
type ExternalModule struct {
	name string
	path string
	meta modproto.Metadata
	conf json.RawMessage
}

// LoadExternalModule probes the executable at path for its metadata
// and builds the module. ctx bounds the metadata invocation. The
// module is registered under the name its metadata declares, falling
// back to the file name.
func LoadExternalModule(ctx context.Context, path string, conf *modconf.Store) (*ExternalModule, error) {
	out, err := exec.CommandContext(ctx, path, modproto.MetadataAction).Output()
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %v", err)
	}

	var meta modproto.Metadata
	if err := json.Unmarshal(bytes.TrimSpace(out), &meta); err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %v", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %v", err)
	}

	apiVersion := meta.APIVersion
	if apiVersion == "" {
		apiVersion = "1.0.0"
	}
	constraint, err := masterminds.NewConstraint(supportedModuleAPI)
	if err != nil {
		return nil, fmt.Errorf("parsing module API constraint: %v", err)
	}
	api, err := masterminds.NewVersion(apiVersion)
	if err != nil {
		return nil, fmt.Errorf("api_version %q is not semver: %v", apiVersion, err)
	}
	if !constraint.Check(api) {
		return nil, fmt.Errorf("unsupported api_version %s (supported: %s)", apiVersion, supportedModuleAPI)
	}

	// A bad version is cosmetic; blank it rather than reject the module.
	if meta.Version != "" {
		if _, err := masterminds.NewVersion(meta.Version); err != nil {
			slog.Warn(fmt.Sprintf("%s - Module at %s declares non-semver version %q, ignoring it", externalLogPrefix, path, meta.Version))
			meta.Version = ""
		}
	}

	name := meta.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		meta.Name = name
	}

	return &ExternalModule{
		name: name,
		path: path,
		meta: meta,
		conf: conf.Get(name),
	}, nil
}

func (m *ExternalModule) Name() string { return m.name }

func (m *ExternalModule) Metadata() modproto.Metadata { return m.meta }

// Path returns the executable behind the module.
func (m *ExternalModule) Path() string { return m.path }

// Invoke runs an action as a subprocess: the invocation document on
// stdin, one JSON result document from stdout. Stdout that parses as
// JSON is the result verbatim, even when the process exited non-zero;
// errors as data pass through untouched.
func (m *ExternalModule) Invoke(ctx context.Context, action string, params json.RawMessage) (json.RawMessage, error) {
	if m.meta.Action(action) == nil {
		return nil, NewModuleError(ErrorValidation, fmt.Sprintf("unknown action: %s %s", m.name, action))
	}

	doc, err := json.Marshal(&modproto.Invocation{
		Action:        action,
		Input:         params,
		Configuration: m.conf,
	})
	if err != nil {
		return nil, NewModuleError(ErrorExecution, fmt.Sprintf("building invocation for %s %s: %v", m.name, action, err))
	}

	cmd := exec.CommandContext(ctx, m.path, action)
	cmd.Stdin = bytes.NewReader(doc)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) > 0 && json.Valid(out) {
		return json.RawMessage(out), nil
	}

	msg := fmt.Sprintf("%s %s produced no parseable result", m.name, action)
	if runErr != nil {
		msg = fmt.Sprintf("%s %s failed: %v", m.name, action, runErr)
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		msg += ": " + s
	}
	return nil, NewModuleError(ErrorExecution, msg)
}

// InvokeWithOutputFiles runs an action in supervised mode: the module
// writes to the caller-chosen files and the exit-status record
// appearing non-empty is the completion signal. The result is read
// from the stdout file afterwards.
func (m *ExternalModule) InvokeWithOutputFiles(ctx context.Context, action string, params json.RawMessage, files modproto.OutputFiles) (json.RawMessage, error) {
	if m.meta.Action(action) == nil {
		return nil, NewModuleError(ErrorValidation, fmt.Sprintf("unknown action: %s %s", m.name, action))
	}

	doc, err := json.Marshal(&modproto.Invocation{
		Action:        action,
		Input:         params,
		Configuration: m.conf,
		OutputFiles:   &files,
	})
	if err != nil {
		return nil, NewModuleError(ErrorExecution, fmt.Sprintf("building invocation for %s %s: %v", m.name, action, err))
	}

	cmd := exec.CommandContext(ctx, m.path, action)
	cmd.Stdin = bytes.NewReader(doc)
	runErr := cmd.Run()

	if err := waitForExitcode(ctx, files.Exitcode); err != nil {
		msg := fmt.Sprintf("%s %s left no exit-status record: %v", m.name, action, err)
		if runErr != nil {
			msg += fmt.Sprintf(" (process: %v)", runErr)
		}
		return nil, NewModuleError(ErrorExecution, msg)
	}

	data, err := os.ReadFile(files.Stdout)
	if err != nil {
		return nil, NewModuleError(ErrorExecution, fmt.Sprintf("reading result of %s %s: %v", m.name, action, err))
	}
	out := bytes.TrimSpace(data)
	if len(out) == 0 || !json.Valid(out) {
		return nil, NewModuleError(ErrorExecution, fmt.Sprintf("%s %s left no parseable result in %s", m.name, action, files.Stdout))
	}
	return json.RawMessage(out), nil
}

// waitForExitcode polls until the exit-status record exists and is
// non-empty. An empty file is a run still flushing its output, not a
// finished one.
func waitForExitcode(ctx context.Context, path string) error {
	ticker := time.NewTicker(exitcodePollInterval)
	defer ticker.Stop()
	for {
		if data, err := os.ReadFile(path); err == nil && len(bytes.TrimSpace(data)) > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
