// Package entryresolver implements spec.md §6's worker entry resolution
// chain: how a Start call without an explicit entry path finds the
// executable a subprocess worker should exec.
package entryresolver

import (
	"fmt"
	"os"
	"path/filepath"
)

// entryMarkerFile is the Go-native analogue of spec.md §6's "./index.js
// entrypoint marker file" convention — a fixed filename in the working
// directory that, if present, identifies the worker entry point without
// needing an explicit path or a resolvable running executable.
const entryMarkerFile = "index.go"

// Resolve returns the worker entry path to pass to transport.Adapter.Spawn,
// walking spec.md §6's fallback chain in order: explicit path, the
// running executable's own path, an entryMarkerFile in the working
// directory, the nearest enclosing go.mod's module root. The first step
// that succeeds wins; exhausting all four is a ConfigError.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("entryresolver: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("entryresolver: ConfigError: entry %q does not exist: %w", explicit, err)
		}
		return abs, nil
	}

	if exe, err := resolveExecutable(); err == nil {
		return exe, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("entryresolver: ConfigError: could not determine working directory: %w", err)
	}

	if marker, err := resolveMarkerFile(wd); err == nil {
		return marker, nil
	}

	if root, err := resolveModuleRoot(wd); err == nil {
		return root, nil
	}

	return "", fmt.Errorf("entryresolver: ConfigError: no worker entry could be resolved (no explicit path, no running executable, no %s in %s, no enclosing go.mod)", entryMarkerFile, wd)
}

// resolveExecutable is the Go analogue of "spawn another copy of myself,
// flagged as a worker" used by every process-based language runtime
// without a script file to point at.
func resolveExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("entryresolver: could not resolve running executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return exe, nil
	}
	return resolved, nil
}

// resolveMarkerFile looks for entryMarkerFile directly inside dir.
func resolveMarkerFile(dir string) (string, error) {
	candidate := filepath.Join(dir, entryMarkerFile)
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("entryresolver: no %s in %s: %w", entryMarkerFile, dir, err)
	}
	return candidate, nil
}

// resolveModuleRoot walks dir and its ancestors looking for the nearest
// go.mod, returning the directory that contains it.
func resolveModuleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("entryresolver: no go.mod found above %s", dir)
		}
		dir = parent
	}
}
