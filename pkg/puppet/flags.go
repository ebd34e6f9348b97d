package puppet

import (
	"fmt"
	"strings"
)

// defaultFlags are applied to every run regardless of what the caller
// asks for.
var defaultFlags = []string{"--onetime", "--no-daemonize", "--verbose"}

// allowedFlagNames are the flag base names callers may request. A flag
// outside this list never reaches puppet.
var allowedFlagNames = map[string]bool{
	"onetime":     true,
	"daemonize":   true,
	"verbose":     true,
	"color":       true,
	"environment": true,
	"show_diff":   true,
	"splay":       true,
	"splaylimit":  true,
	"noop":        true,
	"trace":       true,
	"evaltrace":   true,
	"debug":       true,
	"waitforcert": true,
}

// flagName reduces a flag to the base name checked against the
// allow-list: strip the leading --, a no- negation and any =value.
func flagName(flag string) string {
	name := strings.TrimPrefix(flag, "--")
	name = strings.TrimPrefix(name, "no-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	return name
}

// buildRunArgs vets the requested flags and returns the full argument
// list for the puppet process. Repeating a default verbatim is
// deduplicated; any other spelling of a default's base name is a
// conflict, since it would silently override the run contract.
func buildRunArgs(requested []string) ([]string, error) {
	defaults := make(map[string]string, len(defaultFlags))
	for _, f := range defaultFlags {
		defaults[flagName(f)] = f
	}

	args := make([]string, 0, 1+len(defaultFlags)+len(requested))
	args = append(args, "agent")
	args = append(args, defaultFlags...)

	seen := make(map[string]bool, len(requested))
	for _, f := range requested {
		if !strings.HasPrefix(f, "--") {
			return nil, fmt.Errorf("invalid flag: %q", f)
		}
		name := flagName(f)
		if name == "" || !allowedFlagNames[name] {
			return nil, fmt.Errorf("flag not allowed: %q", f)
		}
		if def, ok := defaults[name]; ok {
			if f != def {
				return nil, fmt.Errorf("flag %q conflicts with the default %q", f, def)
			}
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		args = append(args, f)
	}
	return args, nil
}
