// Package modconf loads per-module configuration documents from a
// directory of <module name>.json files.
package modconf

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const logPrefix = "modconf:store"

// Store holds configuration documents keyed by module name. It is
// built once at startup and read-only afterwards.
type Store struct {
	docs map[string]json.RawMessage
}

// Load reads every *.json file in dir. An empty dir means no module
// has configuration. Files that do not hold a JSON object are skipped
// with a warning; the agent never interprets the documents beyond
// that.
func Load(dir string) *Store {
	s := &Store{docs: make(map[string]json.RawMessage)}
	if dir == "" {
		return s
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Module configuration directory %s not readable: %v", logPrefix, dir, err))
		return s
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Could not read %s: %v", logPrefix, path, err))
			continue
		}
		var probe map[string]interface{}
		if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
			slog.Warn(fmt.Sprintf("%s - Ignoring %s: not a JSON object", logPrefix, entry.Name()))
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		s.docs[name] = json.RawMessage(data)
		slog.Debug(fmt.Sprintf("%s - Loaded configuration for module %s", logPrefix, name))
	}

	slog.Info(fmt.Sprintf("%s - Loaded %d module configuration document(s) from %s", logPrefix, len(s.docs), dir))
	return s
}

// Get returns the configuration document for name, or nil when the
// module has none. Safe on a nil store.
func (s *Store) Get(name string) json.RawMessage {
	if s == nil {
		return nil
	}
	return s.docs[name]
}

// Len returns the number of loaded documents. Safe on a nil store.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}
