package testutil_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/ZebulonRouseFrantzich/valence/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	dir := testutil.SetupTestEnv(t)

	if os.Getenv("VALENCE_TEST_MODE") != "1" {
		t.Error("VALENCE_TEST_MODE not set")
	}
	if got := os.Getenv("VALENCE_CONFIG"); got != filepath.Join(dir, "config", "valence.lua") {
		t.Errorf("VALENCE_CONFIG = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "config")); err != nil {
		t.Errorf("config dir not created: %v", err)
	}
}

func TestSetupProject(t *testing.T) {
	root := testutil.SetupProject(t, "1.0.0", map[string]string{
		"bin/app":     "binary",
		"README.txt":  "hello",
		"lib/a/b.txt": "nested",
	})

	tree := testutil.ReadTree(t, root)
	want := map[string]string{
		"valence.json": `{"version":"1.0.0"}`,
		"bin/app":      "binary",
		"README.txt":   "hello",
		"lib/a/b.txt":  "nested",
	}
	for name, content := range want {
		if tree[name] != content {
			t.Errorf("%s = %q, want %q", name, tree[name], content)
		}
	}
	if len(tree) != len(want) {
		t.Errorf("tree has %d files, want %d", len(tree), len(want))
	}
}

func TestBuildZip(t *testing.T) {
	data := testutil.BuildZip(t,
		testutil.ZipEntry{Name: "bin/"},
		testutil.ZipEntry{Name: "bin/app", Body: "v2"},
	)

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(r.File) != 2 {
		t.Fatalf("zip has %d entries, want 2", len(r.File))
	}
	if !r.File[0].FileInfo().IsDir() {
		t.Error("first entry should be a directory")
	}
	if r.File[1].Name != "bin/app" {
		t.Errorf("second entry = %s", r.File[1].Name)
	}
}
