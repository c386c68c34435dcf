package model

import "time"

// FileType identifies the kind of artifact a physical file is. The value is
// also the vault subdirectory and the first segment of the cloud key, so it
// is always lowercase.
type FileType string

const (
	FileTypeRom            FileType = "rom"
	FileTypeDiskImage      FileType = "diskimage"
	FileTypeTapeImage      FileType = "tapeimage"
	FileTypeMemorySnapshot FileType = "memorysnapshot"
	FileTypeDocument       FileType = "document"
)

// FileTypes lists all known file types.
var FileTypes = []FileType{
	FileTypeRom,
	FileTypeDiskImage,
	FileTypeTapeImage,
	FileTypeMemorySnapshot,
	FileTypeDocument,
}

// Valid reports whether t is one of the known file types.
func (t FileType) Valid() bool {
	for _, known := range FileTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Dir returns the vault subdirectory for this file type.
func (t FileType) Dir() string { return string(t) }

// CloudKey computes the object-store key for an archive of this type.
func (t FileType) CloudKey(archiveName string) string {
	return string(t) + "/" + archiveName
}

// FileInfo is the content-addressed handle for one physical file in the
// vault. (SHA1, FileType) is unique; the file at the vault path exists iff
// the row exists.
type FileInfo struct {
	ID          int64
	SHA1        []byte // 20 raw bytes
	Size        int64
	ArchiveName string // opaque storage name, minted on ingestion
	FileType    FileType
	CreatedAt   time.Time
}

// FileSet is a named logical grouping of FileInfos, e.g. all disk images for
// one release of a game. It references its members but does not own them.
type FileSet struct {
	ID            int64
	Name          string
	CanonicalName string // filename-safe form used in exports
	FileType      FileType
	Source        string // free-text provenance, typically a URL
	CreatedAt     time.Time
}

// FileSetMember links a FileInfo into a FileSet. MemberName is the name the
// member should have when exposed to external tools; it may differ from the
// FileInfo's archive name and is unique within a set. Position preserves the
// user's ordering.
type FileSetMember struct {
	FileSetID  int64
	FileInfoID int64
	MemberName string
	Position   int
}

// System is a target platform (e.g. "Commodore 64").
type System struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// SoftwareTitle is a game or program title independent of platform.
type SoftwareTitle struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Release links a software title to file sets, systems, and typed items. It
// owns its items; everything else is referenced.
type Release struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ReleaseItem is a typed note owned by a release, such as "Cartridge" or
// "Manual".
type ReleaseItem struct {
	ID          int64
	ReleaseID   int64
	ItemType    string
	Description string
}

// DatFile is a parsed community catalogue file.
type DatFile struct {
	ID          int64
	Name        string
	Description string
	Version     string
	CreatedAt   time.Time

	Games []*DatGame
}

// DatGame is one known piece of software in a catalogue.
type DatGame struct {
	ID          int64
	DatFileID   int64
	Name        string
	Description string

	Roms []*DatRom
}

// DatRom carries the expected checksums for one file of a catalogued game.
type DatRom struct {
	ID        int64
	DatGameID int64
	Name      string
	Size      int64
	CRC       string
	SHA1      []byte
}

// SyncStatus is the per-file replication state recorded in the sync log.
type SyncStatus string

const (
	SyncUploadPending      SyncStatus = "upload_pending"
	SyncUploadInProgress   SyncStatus = "upload_in_progress"
	SyncUploadCompleted    SyncStatus = "upload_completed"
	SyncUploadFailed       SyncStatus = "upload_failed"
	SyncDeletionPending    SyncStatus = "deletion_pending"
	SyncDeletionInProgress SyncStatus = "deletion_in_progress"
	SyncDeletionCompleted  SyncStatus = "deletion_completed"
	SyncDeletionFailed     SyncStatus = "deletion_failed"
)

// FileSyncLogEntry is one append-only journal row. Rows are never mutated or
// deleted; the current state of a file is the row with the highest ID for
// its FileInfoID. Entries intentionally carry no foreign key so they outlive
// the FileInfo they describe.
type FileSyncLogEntry struct {
	ID         int64
	FileInfoID int64
	CreatedAt  time.Time
	Status     SyncStatus
	Message    string // free text, typically the last error
	CloudKey   string
}
