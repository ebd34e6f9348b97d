package modproto

import (
	"fmt"
	"os"
	"strconv"
)

// outputCapture owns the opened output files for a redirected invocation.
// finalize writes the exit-status record only after both streams are synced
// to disk, so a supervisor that sees the exitcode file may read the others
// immediately.
type outputCapture struct {
	stdout       *os.File
	stderr       *os.File
	exitcodePath string
}

// acquireOutput opens (creating or truncating) the three output files. The
// exitcode file is probed and removed again so that it only appears once
// finalize has run. Any failure here is unreportable through the protocol;
// the caller must exit with ExitOutputFilesError.
func acquireOutput(files *OutputFiles) (*outputCapture, error) {
	stdout, err := os.OpenFile(files.Stdout, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stdout file: %w", err)
	}
	stderr, err := os.OpenFile(files.Stderr, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("open stderr file: %w", err)
	}
	probe, err := os.OpenFile(files.Exitcode, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("open exitcode file: %w", err)
	}
	probe.Close()
	os.Remove(files.Exitcode)

	return &outputCapture{stdout: stdout, stderr: stderr, exitcodePath: files.Exitcode}, nil
}

// finalize syncs and closes both streams, then writes the exit-status
// record. Must be called exactly once per invocation.
func (c *outputCapture) finalize(code int) {
	c.stdout.Sync()
	c.stdout.Close()
	c.stderr.Sync()
	c.stderr.Close()
	os.WriteFile(c.exitcodePath, []byte(strconv.Itoa(code)+"\n"), 0o644)
}
