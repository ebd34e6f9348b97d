package puppet

import (
	"encoding/json"
	"strings"
	"testing"
)

const puppetTestPrefix = "puppet:puppet_test"

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(json.RawMessage(`{"puppet_bin":"/usr/local/bin/puppet"}`))
	if err != nil {
		t.Fatalf("%s - ParseConfig() error = %v", puppetTestPrefix, err)
	}
	if cfg.PuppetBin != "/usr/local/bin/puppet" {
		t.Errorf("%s - PuppetBin = %q, want /usr/local/bin/puppet", puppetTestPrefix, cfg.PuppetBin)
	}

	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{}`)} {
		cfg, err := ParseConfig(raw)
		if err != nil {
			t.Fatalf("%s - ParseConfig(%q) error = %v", puppetTestPrefix, raw, err)
		}
		if cfg.PuppetBin != DefaultPuppetBin() {
			t.Errorf("%s - PuppetBin = %q, want platform default", puppetTestPrefix, cfg.PuppetBin)
		}
	}

	if _, err := ParseConfig(json.RawMessage(`{bad`)); err == nil {
		t.Errorf("%s - ParseConfig accepted malformed JSON", puppetTestPrefix)
	}
}

func TestParseRunInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "both empty", raw: `{"env":[],"flags":[]}`},
		{name: "populated", raw: `{"env":["FOO=bar"],"flags":["--noop"]}`},
		{name: "missing env", raw: `{"flags":[]}`, wantErr: "env"},
		{name: "missing flags", raw: `{"env":[]}`, wantErr: "flags"},
		{name: "empty document", raw: `{}`, wantErr: "env"},
		{name: "not JSON", raw: `nonsense`, wantErr: "invalid input"},
		{name: "no document", raw: ``, wantErr: "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := ParseRunInput(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("%s - ParseRunInput(%q) = nil error, want error mentioning %q", puppetTestPrefix, tt.raw, tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("%s - error = %v, want mention of %q", puppetTestPrefix, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - ParseRunInput(%q) error = %v", puppetTestPrefix, tt.raw, err)
			}
			if input.Env == nil || input.Flags == nil {
				t.Errorf("%s - decoded input has nil slices: %+v", puppetTestPrefix, input)
			}
		})
	}
}

func TestModuleMetadata(t *testing.T) {
	meta := ModuleMetadata()
	if meta.Name != "puppet" {
		t.Errorf("%s - Name = %q, want puppet", puppetTestPrefix, meta.Name)
	}
	if err := meta.Validate(); err != nil {
		t.Errorf("%s - metadata does not validate: %v", puppetTestPrefix, err)
	}
	run := meta.Action("run")
	if run == nil {
		t.Fatalf("%s - metadata does not declare the run action", puppetTestPrefix)
	}
	if meta.APIVersion != "1.0.0" {
		t.Errorf("%s - api_version = %q, want 1.0.0", puppetTestPrefix, meta.APIVersion)
	}
}

func TestErrorResult(t *testing.T) {
	res := ErrorResult(ErrorNoPuppetBin, "binary missing")
	if res.ErrorType != ErrorNoPuppetBin || res.Error != "binary missing" {
		t.Errorf("%s - error fields = %q/%q", puppetTestPrefix, res.ErrorType, res.Error)
	}
	if res.Exitcode != ExitcodeNotRun {
		t.Errorf("%s - Exitcode = %d, want %d", puppetTestPrefix, res.Exitcode, ExitcodeNotRun)
	}
	if res.Version != 1 {
		t.Errorf("%s - Version = %d, want 1", puppetTestPrefix, res.Version)
	}
	for field, value := range map[string]string{
		"kind": res.Kind, "time": res.Time, "transaction_uuid": res.TransactionUUID,
		"environment": res.Environment, "status": res.Status,
	} {
		if value != Unknown {
			t.Errorf("%s - %s = %q, want %q", puppetTestPrefix, field, value, Unknown)
		}
	}
}

func TestRunResult_SuccessOmitsErrorFields(t *testing.T) {
	res := &RunResult{
		Kind: "apply", Time: "t", TransactionUUID: "u",
		Environment: "production", Status: "changed",
		Exitcode: 0, Version: 1,
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("%s - marshal: %v", puppetTestPrefix, err)
	}
	if strings.Contains(string(data), `"error"`) || strings.Contains(string(data), `"error_type"`) {
		t.Errorf("%s - success result leaks error fields: %s", puppetTestPrefix, data)
	}
	if !strings.Contains(string(data), `"version":1`) {
		t.Errorf("%s - result is missing format version: %s", puppetTestPrefix, data)
	}
}
