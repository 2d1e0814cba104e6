// Package testutil provides fixtures for testing valence in isolation:
// project trees, release archives, and fake mirror and ledger servers.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// ManifestName is the installed manifest file name.
const ManifestName = "valence.json"

// SetupTestEnv isolates a test from the user's environment.
// Directories are removed by t.TempDir, so callers don't clean up.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	t.Setenv("VALENCE_CONFIG", filepath.Join(tmpDir, "config", "valence.lua"))
	t.Setenv("VALENCE_ACCESS_TOKEN", "")
	t.Setenv("VALENCE_TEST_MODE", "1")

	if err := os.MkdirAll(filepath.Join(tmpDir, "config"), 0o750); err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}
	return tmpDir
}

// SetupProject creates an installed project under a fresh temp directory
// and returns its root. The root sits one level below the temp dir so that
// rollback snapshots, which live beside the root, stay inside it.
func SetupProject(t *testing.T, version string, files map[string]string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "app")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("failed to create project root: %v", err)
	}

	manifest, err := json.Marshal(map[string]string{"version": version})
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	WriteFile(t, filepath.Join(root, ManifestName), string(manifest))

	for name, content := range files {
		WriteFile(t, filepath.Join(root, name), content)
	}
	return root
}

// WriteFile writes content, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadTree returns every regular file under root keyed by slash-separated
// relative path.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", root, err)
	}
	return out
}
