// Package puppet implements the run action behind the puppet external
// module: launching puppet agent on the host and reporting the outcome
// of that run from puppet's own last run report.
package puppet

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/opsmesh/fleet-agent/pkg/modproto"
)

// Error vocabulary of the run result. The set is closed; callers branch
// on these values.
const (
	ErrorInvalidJSON          = "invalid_json"
	ErrorNoPuppetBin          = "no_puppet_bin"
	ErrorNoLastRunReport      = "no_last_run_report"
	ErrorInvalidLastRunReport = "invalid_last_run_report"
	ErrorAlreadyRunning       = "agent_already_running"
	ErrorDisabled             = "agent_disabled"
	ErrorFailedToStart        = "agent_failed_to_start"
	ErrorNonZeroExit          = "agent_exit_non_zero"
)

// Unknown is the sentinel for report fields that could not be
// determined.
const Unknown = "unknown"

// ExitcodeNotRun in a result means puppet was never launched.
const ExitcodeNotRun = -1

// resultVersion is the format version of RunResult documents.
const resultVersion = 1

// RunResult is the single document a run produces, success or failure.
type RunResult struct {
	Kind            string `json:"kind"`
	Time            string `json:"time"`
	TransactionUUID string `json:"transaction_uuid"`
	Environment     string `json:"environment"`
	Status          string `json:"status"`
	ErrorType       string `json:"error_type,omitempty"`
	Error           string `json:"error,omitempty"`
	Exitcode        int    `json:"exitcode"`
	Version         int    `json:"version"`
}

// errorResult builds a failure result. Report fields are unknown
// because a failed run has no trustworthy report to draw them from.
func errorResult(errorType, message string, exitcode int) *RunResult {
	return &RunResult{
		Kind:            Unknown,
		Time:            Unknown,
		TransactionUUID: Unknown,
		Environment:     Unknown,
		Status:          Unknown,
		ErrorType:       errorType,
		Error:           message,
		Exitcode:        exitcode,
		Version:         resultVersion,
	}
}

// ErrorResult builds a failure result for an error detected before
// puppet was launched.
func ErrorResult(errorType, message string) *RunResult {
	return errorResult(errorType, message, ExitcodeNotRun)
}

// Config is the module configuration document.
type Config struct {
	PuppetBin string `json:"puppet_bin"`
}

// DefaultPuppetBin returns the platform default location of the puppet
// executable.
func DefaultPuppetBin() string {
	if runtime.GOOS == "windows" {
		return `C:\Program Files\Puppet Labs\Puppet\bin\puppet.bat`
	}
	return "/opt/puppetlabs/bin/puppet"
}

// ParseConfig decodes the module configuration, filling in the default
// binary location when unset. An absent document is valid.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	cfg := &Config{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid module configuration: %v", err)
		}
	}
	if cfg.PuppetBin == "" {
		cfg.PuppetBin = DefaultPuppetBin()
	}
	return cfg, nil
}

// RunInput is the decoded input of the run action.
type RunInput struct {
	Env   []string
	Flags []string
}

// ParseRunInput decodes the run action input. Both env and flags must
// be present, though either may be empty.
func ParseRunInput(raw json.RawMessage) (*RunInput, error) {
	var probe struct {
		Env   *[]string `json:"env"`
		Flags *[]string `json:"flags"`
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("input is missing")
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid input: %v", err)
	}
	if probe.Env == nil {
		return nil, fmt.Errorf("input is missing required field env")
	}
	if probe.Flags == nil {
		return nil, fmt.Errorf("input is missing required field flags")
	}
	return &RunInput{Env: *probe.Env, Flags: *probe.Flags}, nil
}

// ModuleMetadata returns the metadata document the puppet module
// publishes.
func ModuleMetadata() modproto.Metadata {
	return modproto.Metadata{
		Name:        "puppet",
		Description: "Runs Puppet on the host and reports the result of the run",
		Version:     "1.0.0",
		APIVersion:  "1.0.0",
		Configuration: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"puppet_bin": map[string]interface{}{"type": "string"},
			},
		},
		Actions: []modproto.ActionSpec{
			{
				Name:        "run",
				Description: "Triggers a puppet agent run and reports its outcome",
				Input: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"env": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
						"flags": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
					},
					"required": []interface{}{"env", "flags"},
				},
				Results: map[string]interface{}{"type": "object"},
			},
		},
	}
}
