package rcm

import "io"

// FileRecord describes one file discovered in a user-supplied source: a
// loose file yields one record, a ZIP archive one per file member.
type FileRecord struct {
	SHA1       []byte // 20 raw bytes
	Size       int64  // decompressed size
	Name       string // base filename or archive member name
	SourcePath string // the source this record came from
}

// MetadataReader computes checksums for user-supplied sources and re-opens
// individual records for staging.
type MetadataReader interface {
	// ReadMetadata returns one record per file in the source. ZIP members
	// with duplicate checksums collapse to one record; the first name
	// wins. A missing source reports an error matching ErrNotFound,
	// distinguished from an unreadable one.
	ReadMetadata(path string) ([]FileRecord, error)

	// OpenRecord streams the decompressed bytes of a previously returned
	// record.
	OpenRecord(rec FileRecord) (io.ReadCloser, error)
}
