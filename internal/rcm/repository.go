package rcm

import "rcm-go/internal/model"

// SyncCandidate pairs a FileInfo with its latest sync-log entry. Used for
// paging files by replication state.
type SyncCandidate struct {
	FileInfo *model.FileInfo
	Entry    *model.FileSyncLogEntry
}

// Repository provides transactional metadata storage. The "latest status" of
// a file is always the sync-log row with the highest ID for its FileInfoID.
type Repository interface {
	// FileInfo operations

	// FindFileInfoByID returns the file info with the given ID, or nil.
	FindFileInfoByID(id int64) (*model.FileInfo, error)

	// FindFileInfoByChecksum returns the file info with the given
	// (sha1, file type), or nil.
	FindFileInfoByChecksum(sha1 []byte, fileType model.FileType) (*model.FileInfo, error)

	// DeleteFileInfo removes a file info row. Foreign keys cascade the
	// removal of its set memberships and system links.
	DeleteFileInfo(id int64) error

	// FileSet operations

	// FindFileSetByID returns the file set with the given ID, or nil.
	FindFileSetByID(id int64) (*model.FileSet, error)

	// ListFileSets returns all file sets, optionally filtered by type
	// (empty means all), ordered by name.
	ListFileSets(fileType model.FileType) ([]*model.FileSet, error)

	// FindFileSetMembers returns a set's members in position order.
	FindFileSetMembers(fileSetID int64) ([]*model.FileSetMember, error)

	// FindFileSetsReferencingFileInfo returns every set holding the given
	// file info as a member. This is the reference count for deletion.
	FindFileSetsReferencingFileInfo(fileInfoID int64) ([]*model.FileSet, error)

	// RemoveFileSetMember unlinks one member from a set.
	RemoveFileSetMember(fileSetID, fileInfoID int64) error

	// DeleteFileSet removes the set row; member links cascade.
	DeleteFileSet(id int64) error

	// System operations

	FindSystemByID(id int64) (*model.System, error)
	FindOrCreateSystem(name string) (*model.System, error)
	ListSystems() ([]*model.System, error)

	// Release operations

	FindReleaseByID(id int64) (*model.Release, error)
	ListReleases() ([]*model.Release, error)

	// FindReleasesReferencingFileSet returns releases linked to a set.
	// A non-empty result blocks deletion of the set.
	FindReleasesReferencingFileSet(fileSetID int64) ([]*model.Release, error)

	// DeleteRelease removes a release; its links and items cascade.
	DeleteRelease(id int64) error

	AddReleaseItem(item *model.ReleaseItem) error
	ListReleaseItems(releaseID int64) ([]*model.ReleaseItem, error)

	// Sync log operations

	// AppendSyncLog appends one journal row and assigns its ID.
	AppendSyncLog(entry *model.FileSyncLogEntry) error

	// LatestSyncLog returns the newest journal row for a file, or nil if
	// the file was never journalled.
	LatestSyncLog(fileInfoID int64) (*model.FileSyncLogEntry, error)

	// ListSyncLog returns the full journal for a file, newest first.
	ListSyncLog(fileInfoID int64) ([]*model.FileSyncLogEntry, error)

	// MarkForCloudSync batch-appends UploadPending rows.
	MarkForCloudSync(entries []*model.FileSyncLogEntry) error

	// PageFileInfosWithoutSyncLog pages file infos with no journal rows at
	// all, oldest first.
	PageFileInfosWithoutSyncLog(limit, offset int) ([]*model.FileInfo, error)

	// PageFileInfosByLatestStatus pages file infos whose latest status is
	// one of the given statuses, oldest journal row first.
	PageFileInfosByLatestStatus(statuses []model.SyncStatus, limit, offset int) ([]*SyncCandidate, error)

	// PageSyncEntriesByLatestStatus pages latest journal rows matching the
	// given statuses, oldest first. Unlike PageFileInfosByLatestStatus the
	// FileInfo row need not exist anymore; deletions are journalled after
	// the row is gone.
	PageSyncEntriesByLatestStatus(statuses []model.SyncStatus, limit, offset int) ([]*model.FileSyncLogEntry, error)

	// CountByLatestStatus counts file infos whose latest status is one of
	// the given statuses.
	CountByLatestStatus(statuses []model.SyncStatus) (int, error)

	// Catalogue operations

	// SaveDatFile inserts a catalogue file with its games and roms.
	SaveDatFile(df *model.DatFile) error

	// FindDatRomsByChecksum returns catalogue roms with the given SHA-1,
	// with DatGameID populated.
	FindDatRomsByChecksum(sha1 []byte) ([]*model.DatRom, error)

	// FindDatGameByID returns the catalogue game with the given ID, or nil.
	FindDatGameByID(id int64) (*model.DatGame, error)

	// Counts for the status surface.

	CountFileInfos() (int, error)
	CountFileSets() (int, error)
	CountReleases() (int, error)

	// Begin opens a transaction for the import pipeline's persist steps.
	Begin() (Tx, error)

	// Close closes the underlying connection.
	Close() error
}

// Tx is the insert/link surface the import pipeline uses inside one
// transaction. Either Commit or Rollback must be called; Rollback after
// Commit is a no-op.
type Tx interface {
	// InsertFileInfo inserts a file info and assigns its ID. Returns an
	// error matching ErrConflict if (sha1, file type) already exists.
	InsertFileInfo(fi *model.FileInfo) error

	// FindFileInfoByChecksum re-reads a conflicting row inside the
	// transaction.
	FindFileInfoByChecksum(sha1 []byte, fileType model.FileType) (*model.FileInfo, error)

	// FindFileSetByID reads a file set inside the transaction. Update-mode
	// imports resolve the target set here so the read sees rows from the
	// same transaction.
	FindFileSetByID(id int64) (*model.FileSet, error)

	// FindFileSetMembers reads a set's members inside the transaction.
	FindFileSetMembers(fileSetID int64) ([]*model.FileSetMember, error)

	// LinkFileInfoSystem records that a file belongs to a platform.
	// Duplicate links are deduplicated.
	LinkFileInfoSystem(fileInfoID, systemID int64) error

	// InsertFileSet inserts a file set and assigns its ID.
	InsertFileSet(fs *model.FileSet) error

	// AddFileSetMember links a file info into a set.
	AddFileSetMember(m *model.FileSetMember) error

	// FindOrCreateSoftwareTitle returns the title with the given name,
	// creating it if needed.
	FindOrCreateSoftwareTitle(name string) (*model.SoftwareTitle, error)

	// InsertRelease inserts a release and assigns its ID.
	InsertRelease(r *model.Release) error

	LinkReleaseFileSet(releaseID, fileSetID int64) error
	LinkReleaseSystem(releaseID, systemID int64) error
	LinkReleaseSoftwareTitle(releaseID, softwareTitleID int64) error

	InsertReleaseItem(item *model.ReleaseItem) error

	Commit() error
	Rollback() error
}
