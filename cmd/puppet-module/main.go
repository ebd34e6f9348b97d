// Package main is the entrypoint for the puppet external module.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/opsmesh/fleet-agent/pkg/modproto"
	"github.com/opsmesh/fleet-agent/pkg/puppet"
)

func main() {
	os.Exit(run(os.Args))
}

// run wires the puppet module into the module runtime. The environment
// fix-up is computed once here and handed down as a plain value.
func run(args []string) int {
	// Stdout carries the protocol; diagnostics go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	return newRuntime(puppet.ComputeEnvFixup()).Main(args)
}

func newRuntime(fixup puppet.EnvFixup) *modproto.Runtime {
	rt := modproto.NewRuntime(puppet.ModuleMetadata())
	rt.HandleFunc("run", func(_ context.Context, inv *modproto.Invocation) (interface{}, error) {
		return runAction(inv, fixup), nil
	})
	return rt
}

// runAction executes one puppet run request. Malformed configuration or
// input becomes an invalid_json error result; the runner reports every
// later failure through the result document.
func runAction(inv *modproto.Invocation, fixup puppet.EnvFixup) *puppet.RunResult {
	cfg, err := puppet.ParseConfig(inv.Configuration)
	if err != nil {
		return puppet.ErrorResult(puppet.ErrorInvalidJSON, err.Error())
	}
	input, err := puppet.ParseRunInput(inv.Input)
	if err != nil {
		return puppet.ErrorResult(puppet.ErrorInvalidJSON, err.Error())
	}
	return puppet.NewRunner(cfg.PuppetBin, fixup).Run(input)
}
