package vault_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
	"rcm-go/internal/vault"
)

func newFSStore(t *testing.T) (*vault.FileSystemStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := vault.NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	return store, root
}

func writeArchive(t *testing.T, store rcm.Store, ft model.FileType, name, content string) {
	t.Helper()
	err := store.Write(ft, name, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestFileSystemStore(t *testing.T) {
	t.Run("creates one subdirectory per file type", func(t *testing.T) {
		_, root := newFSStore(t)
		for _, ft := range model.FileTypes {
			if _, err := os.Stat(filepath.Join(root, ft.Dir())); err != nil {
				t.Errorf("missing subdirectory for %s: %v", ft, err)
			}
		}
	})

	t.Run("write then open round-trips", func(t *testing.T) {
		store, _ := newFSStore(t)
		writeArchive(t, store, model.FileTypeRom, "a.zip", "archive bytes")

		ok, err := store.Exists(model.FileTypeRom, "a.zip")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if !ok {
			t.Fatal("archive does not exist after write")
		}

		rc, err := store.Open(model.FileTypeRom, "a.zip")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		if string(got) != "archive bytes" {
			t.Errorf("content = %q, want archive bytes", got)
		}
	})

	t.Run("failed write leaves nothing behind", func(t *testing.T) {
		store, root := newFSStore(t)
		boom := errors.New("boom")
		err := store.Write(model.FileTypeRom, "broken.zip", func(w io.Writer) error {
			io.WriteString(w, "partial")
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Write() error = %v, want %v", err, boom)
		}

		ok, err := store.Exists(model.FileTypeRom, "broken.zip")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if ok {
			t.Error("partial archive visible after failed write")
		}

		entries, err := os.ReadDir(filepath.Join(root, model.FileTypeRom.Dir()))
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".staged-") {
				t.Errorf("leftover temp file %s", e.Name())
			}
		}
	})

	t.Run("open missing archive is not found", func(t *testing.T) {
		store, _ := newFSStore(t)
		_, err := store.Open(model.FileTypeRom, "missing.zip")
		if !errors.Is(err, rcm.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("removing a missing archive succeeds", func(t *testing.T) {
		store, _ := newFSStore(t)
		if err := store.Remove(model.FileTypeRom, "missing.zip"); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
	})

	t.Run("remove deletes the archive", func(t *testing.T) {
		store, _ := newFSStore(t)
		writeArchive(t, store, model.FileTypeRom, "gone.zip", "bytes")

		if err := store.Remove(model.FileTypeRom, "gone.zip"); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		ok, err := store.Exists(model.FileTypeRom, "gone.zip")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if ok {
			t.Error("archive still exists after remove")
		}
	})

	t.Run("move renames within the type directory", func(t *testing.T) {
		store, _ := newFSStore(t)
		writeArchive(t, store, model.FileTypeRom, "old.zip", "bytes")

		if err := store.Move(model.FileTypeRom, "old.zip", "new.zip"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if ok, _ := store.Exists(model.FileTypeRom, "old.zip"); ok {
			t.Error("old name still exists after move")
		}
		if ok, _ := store.Exists(model.FileTypeRom, "new.zip"); !ok {
			t.Error("new name missing after move")
		}
	})

	t.Run("file types do not collide", func(t *testing.T) {
		store, _ := newFSStore(t)
		writeArchive(t, store, model.FileTypeRom, "same.zip", "rom bytes")
		writeArchive(t, store, model.FileTypeDiskImage, "same.zip", "disk bytes")

		rc, err := store.Open(model.FileTypeDiskImage, "same.zip")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "disk bytes" {
			t.Errorf("content = %q, want disk bytes", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := vault.NewMemoryStore()
	writeArchive(t, store, model.FileTypeRom, "m.zip", "memory bytes")

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}

	rc, err := store.Open(model.FileTypeRom, "m.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "memory bytes" {
		t.Errorf("content = %q, want memory bytes", got)
	}

	if _, err := store.Open(model.FileTypeRom, "missing.zip"); !errors.Is(err, rcm.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := store.Remove(model.FileTypeRom, "missing.zip"); err != nil {
		t.Errorf("Remove() of missing archive error = %v", err)
	}
}
