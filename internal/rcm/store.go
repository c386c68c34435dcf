package rcm

import (
	"io"

	"rcm-go/internal/model"
)

// Store provides the primitive file operations over the on-disk vault. It
// keeps no in-memory state; the filesystem is the only state.
type Store interface {
	// PathFor returns the absolute path for a (file type, archive name)
	// pair: <root>/<file type dir>/<archive name>. Purely syntactic.
	PathFor(fileType model.FileType, archiveName string) string

	// Exists reports whether the vault file is present.
	Exists(fileType model.FileType, archiveName string) (bool, error)

	// Write stages to a temporary name in the target directory, calls fn
	// with the staged writer, and atomically renames on success. A crash
	// mid-write leaves the target either absent or complete.
	Write(fileType model.FileType, archiveName string, fn func(w io.Writer) error) error

	// Open opens a vault file for reading.
	Open(fileType model.FileType, archiveName string) (io.ReadCloser, error)

	// Remove deletes a vault file. Removing a missing file is success; the
	// deletion pipeline retries after partial completion.
	Remove(fileType model.FileType, archiveName string) error

	// Move renames a vault file within its file-type directory.
	Move(fileType model.FileType, oldName, newName string) error
}
