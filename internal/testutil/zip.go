package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ZipEntry is one archive member. Names ending in "/" are directories.
type ZipEntry struct {
	Name string
	Body string
}

// BuildZip builds a release archive in memory.
func BuildZip(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		if strings.HasSuffix(e.Name, "/") {
			if _, err := w.Create(e.Name); err != nil {
				t.Fatalf("failed to add directory %s: %v", e.Name, err)
			}
			continue
		}
		f, err := w.Create(e.Name)
		if err != nil {
			t.Fatalf("failed to add file %s: %v", e.Name, err)
		}
		if _, err := f.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write file %s: %v", e.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}
