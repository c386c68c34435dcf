package testutil

import (
	"archive/zip"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"
)

// SHA1 returns the raw SHA-1 digest of data.
func SHA1(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// WriteFile creates a file with the given content under dir and returns its
// path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// WriteZip creates a ZIP archive under dir containing the given members and
// returns its path.
func WriteZip(t *testing.T, dir, name string, members map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for member, content := range members {
		w, err := zw.Create(member)
		if err != nil {
			t.Fatalf("failed to add member %s: %v", member, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("failed to write member %s: %v", member, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip %s: %v", name, err)
	}
	return path
}
