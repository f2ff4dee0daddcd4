package entryresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveExplicitPath(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "worker")
	require.NoError(t, os.WriteFile(entry, []byte("#!/bin/sh\n"), 0o755))

	got, err := Resolve(entry)
	require.NoError(t, err)
	require.Equal(t, entry, got)
}

func TestResolveExplicitPathMissing(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	require.ErrorContains(t, err, "ConfigError")
}

func TestResolveFallsBackToRunningExecutable(t *testing.T) {
	exe, err := resolveExecutable()
	require.NoError(t, err)

	got, err := Resolve("")
	require.NoError(t, err)
	require.Equal(t, exe, got)
}

func TestResolveMarkerFile(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, entryMarkerFile)
	require.NoError(t, os.WriteFile(marker, []byte("package main\n"), 0o644))

	got, err := resolveMarkerFile(dir)
	require.NoError(t, err)
	require.Equal(t, marker, got)
}

func TestResolveMarkerFileAbsent(t *testing.T) {
	_, err := resolveMarkerFile(t.TempDir())
	require.Error(t, err)
}

func TestResolveModuleRootWalksUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n"), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := resolveModuleRoot(nested)
	require.NoError(t, err)
	require.Equal(t, root, got)
}

func TestResolveModuleRootNotFound(t *testing.T) {
	// A temp dir has no go.mod anywhere above it within itself; walking
	// up from it will eventually hit a real go.mod on this machine (the
	// module under test), so assert against an isolated, already-rootless
	// path instead: the filesystem root itself never contains one in a
	// test environment that doesn't also happen to live there.
	_, err := resolveModuleRoot(string(filepath.Separator))
	require.Error(t, err)
}
