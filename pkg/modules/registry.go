package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsmesh/fleet-agent/pkg/modconf"
)

const logPrefix = "modules:registry"

// Registry holds the loaded modules. It is assembled at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	modules map[string]Module
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. A later registration under the same name
// replaces the earlier one and keeps its position, so registering
// built-ins first and then scanning the modules directory gives
// external modules the power to shadow a built-in deterministically.
func (r *Registry) Register(m Module) {
	name := m.Name()
	if _, exists := r.modules[name]; exists {
		slog.Warn(fmt.Sprintf("%s - Module %s replaces an earlier registration", logPrefix, name))
	} else {
		r.order = append(r.order, name)
	}
	r.modules[name] = m
}

// RegisterBuiltins registers the built-in modules in their fixed
// order.
func (r *Registry) RegisterBuiltins(instanceID, version string, started time.Time) {
	r.Register(EchoModule())
	r.Register(PingModule())
	r.Register(InventoryModule())
	r.Register(StatusModule(instanceID, version, started))
}

// LoadExternal scans dir for module executables and registers every
// loadable candidate. The scan is non-recursive and name-sorted. A
// candidate that cannot be loaded is skipped with a warning; a bad
// module never aborts startup or hides the others.
func (r *Registry) LoadExternal(ctx context.Context, dir string, conf *modconf.Store, metadataTimeout time.Duration) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Modules directory %s not readable: %v", logPrefix, dir, err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		mctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		m, err := LoadExternalModule(mctx, path, conf)
		cancel()
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Skipping module candidate %s: %v", logPrefix, entry.Name(), err))
			continue
		}
		r.Register(m)
	}
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the module names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Modules returns the modules in registration order.
func (r *Registry) Modules() []Module {
	out := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name])
	}
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.modules)
}

// LogLoaded logs every registered module with its action names.
func (r *Registry) LogLoaded() {
	for _, name := range r.order {
		meta := r.modules[name].Metadata()
		actions := make([]string, 0, len(meta.Actions))
		for _, a := range meta.Actions {
			actions = append(actions, a.Name)
		}
		slog.Info(fmt.Sprintf("%s - Loaded module %s with actions: %s", logPrefix, name, strings.Join(actions, " ")))
	}
}
