package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blyfast.yaml")
	writeConfig(t, path, "server:\n  port: 9090\n")

	reloads := make(chan Config, 4)
	w, err := Watch(path, zerolog.Nop(), func(cfg Config) {
		reloads <- cfg
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	writeConfig(t, path, "server:\n  port: 9191\n")

	select {
	case cfg := <-reloads:
		assert.Equal(t, 9191, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestWatchSkipsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blyfast.yaml")
	writeConfig(t, path, "server:\n  port: 9090\n")

	reloads := make(chan Config, 4)
	w, err := Watch(path, zerolog.Nop(), func(cfg Config) {
		reloads <- cfg
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	// Broken YAML: the callback must not fire, the previous configuration
	// stays in force.
	writeConfig(t, path, "server: [not a map")

	select {
	case cfg := <-reloads:
		t.Fatalf("invalid file produced a reload: %+v", cfg.Server)
	case <-time.After(time.Second):
	}

	// A subsequent valid write recovers.
	writeConfig(t, path, "server:\n  port: 9292\n")

	select {
	case cfg := <-reloads:
		assert.Equal(t, 9292, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after recovery")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blyfast.yaml")
	writeConfig(t, path, "server:\n  port: 9090\n")

	reloads := make(chan Config, 4)
	w, err := Watch(path, zerolog.Nop(), func(cfg Config) {
		reloads <- cfg
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	writeConfig(t, filepath.Join(dir, "other.yaml"), "server:\n  port: 1\n")

	select {
	case <-reloads:
		t.Fatal("sibling file write must not trigger a reload")
	case <-time.After(time.Second):
	}
}
