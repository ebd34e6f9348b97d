package puppet

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

const envLogPrefix = "puppet:env"

// EnvFixup holds the identity variables injected into the puppet child
// environment.
type EnvFixup map[string]string

// ComputeEnvFixup determines the identity variables for the effective
// user. Call it once at process startup and pass the value down; the
// effective user does not change while the process lives. The fix-up is
// empty on Windows and for the superuser, whose environment already
// matches the account puppet runs as.
func ComputeEnvFixup() EnvFixup {
	if runtime.GOOS == "windows" {
		return EnvFixup{}
	}
	uid := os.Geteuid()
	if uid == 0 {
		return EnvFixup{}
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Could not resolve effective user %d, running puppet with the caller environment as-is: %v", envLogPrefix, uid, err))
		return EnvFixup{}
	}
	return EnvFixup{
		"USER":    u.Username,
		"LOGNAME": u.Username,
		"HOME":    u.HomeDir,
	}
}

// MergeEnviron builds the child environment from the caller-supplied
// entries with the fix-up merged over them. Fix-up variables win over
// caller entries of the same name.
func MergeEnviron(env []string, fixup EnvFixup) []string {
	merged := make([]string, 0, len(env)+len(fixup))
	for _, entry := range env {
		if name, _, ok := strings.Cut(entry, "="); ok {
			if _, shadowed := fixup[name]; shadowed {
				continue
			}
		}
		merged = append(merged, entry)
	}

	names := make([]string, 0, len(fixup))
	for name := range fixup {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		merged = append(merged, name+"="+fixup[name])
	}
	return merged
}
