// Package reader computes checksums and sizes for user-supplied sources: a
// loose file yields one record, a ZIP archive one per file member.
package reader

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rcm-go/internal/rcm"
)

// hashBufferSize is the streaming buffer for checksum computation. Members
// are never buffered whole.
const hashBufferSize = 8 * 1024

// Reader is the filesystem-backed MetadataReader implementation.
type Reader struct{}

func New() *Reader { return &Reader{} }

// ReadMetadata returns one record per file in the source. Members of a ZIP
// with duplicate checksums collapse to one record, first name wins.
func (r *Reader) ReadMetadata(path string) ([]rcm.FileRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: source %s", rcm.ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if isZip(path) {
		return r.readZip(path)
	}
	return r.readFile(path)
}

func (r *Reader) readFile(path string) ([]rcm.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, size, err := hashStream(f)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}

	return []rcm.FileRecord{{
		SHA1:       sum,
		Size:       size,
		Name:       filepath.Base(path),
		SourcePath: path,
	}}, nil
}

func (r *Reader) readZip(path string) ([]rcm.FileRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	var records []rcm.FileRecord
	seen := make(map[string]bool)

	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", member.Name, err)
		}
		sum, size, err := hashStream(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("hashing member %s: %w", member.Name, err)
		}

		key := string(sum)
		if seen[key] {
			continue
		}
		seen[key] = true

		records = append(records, rcm.FileRecord{
			SHA1:       sum,
			Size:       size,
			Name:       member.Name,
			SourcePath: path,
		})
	}
	return records, nil
}

// OpenRecord streams the decompressed bytes of a previously returned record.
func (r *Reader) OpenRecord(rec rcm.FileRecord) (io.ReadCloser, error) {
	if !isZip(rec.SourcePath) {
		f, err := os.Open(rec.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rec.SourcePath, err)
		}
		return f, nil
	}

	zr, err := zip.OpenReader(rec.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", rec.SourcePath, err)
	}
	for _, member := range zr.File {
		if member.FileInfo().IsDir() || member.Name != rec.Name {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("open member %s: %w", member.Name, err)
		}
		return &memberReadCloser{rc: rc, zr: zr}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("%w: member %s in %s", rcm.ErrNotFound, rec.Name, rec.SourcePath)
}

// memberReadCloser closes both the member stream and the archive.
type memberReadCloser struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (m *memberReadCloser) Read(p []byte) (int, error) { return m.rc.Read(p) }

func (m *memberReadCloser) Close() error {
	err := m.rc.Close()
	if zrErr := m.zr.Close(); err == nil {
		err = zrErr
	}
	return err
}

func isZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// hashStream computes the SHA-1 and size of a stream through a small buffer.
func hashStream(r io.Reader) ([]byte, int64, error) {
	h := sha1.New()
	buf := make([]byte, hashBufferSize)
	size, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), size, nil
}

// Checksum hashes an in-memory payload. Convenience for drivers and tests.
func Checksum(data []byte) []byte {
	sum, _, _ := hashStream(bytes.NewReader(data))
	return sum
}

// Compile-time check that Reader implements rcm.MetadataReader.
var _ rcm.MetadataReader = (*Reader)(nil)
