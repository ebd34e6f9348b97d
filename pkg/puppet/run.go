package puppet

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const runLogPrefix = "puppet:run"

// Console markers puppet prints when a run cannot proceed. Matching on
// console text is brittle: the strings track puppet's own wording and
// break silently if a puppet release rewords them.
const (
	alreadyRunningMarker = "Run of Puppet configuration client already in progress"
	disabledMarker       = "administratively disabled"
	disabledHintMarker   = "Use 'puppet agent --enable'"
)

// Runner executes puppet agent runs with a fixed binary path and
// environment fix-up.
type Runner struct {
	bin   string
	fixup EnvFixup
}

// NewRunner returns a Runner for the given puppet binary. The fix-up
// comes from ComputeEnvFixup, called once at process startup.
func NewRunner(bin string, fixup EnvFixup) *Runner {
	return &Runner{bin: bin, fixup: fixup}
}

// Run triggers one puppet agent run and reports its outcome. It always
// returns a result; failures are carried in the error_type and error
// fields, never as a Go error.
func (r *Runner) Run(input *RunInput) *RunResult {
	if _, err := os.Stat(r.bin); err != nil {
		return errorResult(ErrorNoPuppetBin, fmt.Sprintf("puppet binary not found at %s", r.bin), ExitcodeNotRun)
	}

	args, err := buildRunArgs(input.Flags)
	if err != nil {
		return errorResult(ErrorInvalidJSON, err.Error(), ExitcodeNotRun)
	}

	// The run and the configprint probe share one sanitized environment
	// so the report location puppet writes to is the one probed here.
	env := MergeEnviron(input.Env, r.fixup)

	reportPath, err := r.configPrint("lastrunreport", env)
	if err != nil || reportPath == "" {
		return errorResult(ErrorNoLastRunReport, "could not determine the last run report location", ExitcodeNotRun)
	}

	// Pre-run mtime. A report that still carries it after the run
	// belongs to an earlier run and must not be presented as this one.
	var before time.Time
	if st, err := os.Stat(reportPath); err == nil {
		before = st.ModTime()
	}

	slog.Info(fmt.Sprintf("%s - Starting puppet run: %s %s", runLogPrefix, r.bin, strings.Join(args, " ")))

	cmd := exec.Command(r.bin, args...)
	cmd.Env = env
	var console bytes.Buffer
	cmd.Stdout = &console
	cmd.Stderr = &console
	runErr := cmd.Run()

	if runErr != nil && cmd.ProcessState == nil {
		return errorResult(ErrorFailedToStart, fmt.Sprintf("puppet failed to start: %v", runErr), ExitcodeNotRun)
	}
	exitcode := cmd.ProcessState.ExitCode()
	out := console.String()

	if strings.Contains(out, alreadyRunningMarker) {
		// Another run owns the report; its fields are not this run's.
		return errorResult(ErrorAlreadyRunning, "another puppet run is already in progress", exitcode)
	}
	if strings.Contains(out, disabledMarker) && strings.Contains(out, disabledHintMarker) {
		return errorResult(ErrorDisabled, "puppet agent is administratively disabled", exitcode)
	}

	st, err := os.Stat(reportPath)
	if err != nil {
		return errorResult(ErrorNoLastRunReport, fmt.Sprintf("no last run report at %s", reportPath), exitcode)
	}
	if st.ModTime().Equal(before) {
		return errorResult(ErrorNoLastRunReport, "the last run report was not updated by this run", exitcode)
	}

	report, err := ParseLastRunReport(reportPath)
	if err != nil {
		return errorResult(ErrorInvalidLastRunReport, err.Error(), exitcode)
	}

	result := &RunResult{
		Kind:            orUnknown(report.Kind),
		Time:            orUnknown(report.Time),
		TransactionUUID: orUnknown(report.TransactionUUID),
		Environment:     orUnknown(report.Environment),
		Status:          orUnknown(report.Status),
		Exitcode:        exitcode,
		Version:         resultVersion,
	}
	if exitcode != 0 {
		result.ErrorType = ErrorNonZeroExit
		result.Error = fmt.Sprintf("puppet agent exited with status %d", exitcode)
	}
	slog.Info(fmt.Sprintf("%s - Puppet run finished: status=%s exitcode=%d", runLogPrefix, result.Status, exitcode))
	return result
}

// configPrint asks puppet for one of its settings.
func (r *Runner) configPrint(key string, env []string) (string, error) {
	cmd := exec.Command(r.bin, "agent", "--configprint", key)
	cmd.Env = env
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("puppet --configprint %s: %v", key, err)
	}
	return strings.TrimSpace(string(out)), nil
}
