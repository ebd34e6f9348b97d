// Package main is the entrypoint for the fleet-agent.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsmesh/fleet-agent/internal/config"
	"github.com/opsmesh/fleet-agent/internal/server"
	"github.com/opsmesh/fleet-agent/pkg/modconf"
	"github.com/opsmesh/fleet-agent/pkg/modules"
)

const usage = `Usage: fleet-agent [command]
       fleet-agent serve     Start the agent (COMMS subscription, HTTP, modules).
       fleet-agent modules   Discover modules and print them without connecting.
       fleet-agent version   Print the agent version.

Commands:
  serve     (default) Start the fleet agent.
  modules   Load configuration, build the module registry (built-ins plus the
            external scan) and print each module with version and actions.
  version   Print the agent version.
  help      Show this message.

Environment: COMMS_URL, AGENT_IDENTITY (default hostname), AGENT_MODULES_DIR,
AGENT_MODULES_CONFIG_DIR, AGENT_SEND_TIMEOUT, HTTP_PORT, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "modules":
		if err := runModules(); err != nil {
			log.Fatalf("fleet-agent modules: %v", err)
		}
		return
	case "version":
		fmt.Printf("fleet-agent %s\n", server.Version)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("fleet-agent: %v", err)
	}
}

// runModules builds the registry the way serve does, without touching
// the broker, and prints what an agent on this host would load.
func runModules() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	conf := modconf.Load(cfg.ModulesConfigDir)
	reg := modules.NewRegistry()
	reg.RegisterBuiltins(uuid.NewString(), server.Version, time.Now())
	reg.LoadExternal(context.Background(), cfg.ModulesDir, conf, cfg.MetadataTimeout)

	for _, m := range reg.Modules() {
		meta := m.Metadata()
		version := meta.Version
		if version == "" {
			version = "-"
		}
		actions := make([]string, 0, len(meta.Actions))
		for _, a := range meta.Actions {
			actions = append(actions, a.Name)
		}
		fmt.Printf("%s %s: %s\n", m.Name(), version, strings.Join(actions, ", "))
	}
	return nil
}
