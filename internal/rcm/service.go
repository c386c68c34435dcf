package rcm

import (
	"context"
	"encoding/hex"
	"fmt"

	"rcm-go/internal/model"
)

// Service is the orchestration layer that coordinates the pipelines and the
// query surface needed by the CLI and GUI drivers.
type Service struct {
	repo        Repository
	store       Store
	reader      MetadataReader
	connector   CloudConnector
	clock       Clock
	namer       ArchiveNamer
	logger      Logger
	syncEnabled bool
}

// NewService creates a Service with the provided dependencies. connector may
// be nil when sync is disabled and never invoked.
func NewService(repo Repository, store Store, reader MetadataReader, connector CloudConnector, clock Clock, namer ArchiveNamer, logger Logger, syncEnabled bool) *Service {
	return &Service{
		repo:        repo,
		store:       store,
		reader:      reader,
		connector:   connector,
		clock:       clock,
		namer:       namer,
		logger:      logger,
		syncEnabled: syncEnabled,
	}
}

// ScanSources reads the given sources and returns the discovered records so
// a driver can present a selection to the user before importing.
func (s *Service) ScanSources(paths []string) ([]FileRecord, error) {
	var all []FileRecord
	seen := make(map[string]bool)
	for _, path := range paths {
		records, err := s.reader.ReadMetadata(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, rec := range records {
			key := hex.EncodeToString(rec.SHA1)
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, rec)
		}
	}
	return all, nil
}

// Import runs the import pipeline for the given request.
func (s *Service) Import(req *ImportRequest) (*ImportResult, error) {
	if !req.FileType.Valid() {
		return nil, fmt.Errorf("unknown file type: %s", req.FileType)
	}
	pipeline := NewImportPipeline(s.repo, s.store, s.reader, s.clock, s.namer, s.logger, s.syncEnabled)
	result, err := pipeline.Run(req)
	if err != nil {
		return nil, err
	}
	if result.FileSet != nil {
		s.logger.Info("import complete",
			"file_set", result.FileSet.Name,
			"new", len(result.Created),
			"existing", len(result.Existing))
	}
	return result, nil
}

// UpdateFileSetRequest describes the desired membership of an existing set.
type UpdateFileSetRequest struct {
	FileSetID   int64
	SourcePaths []string

	// SelectedChecksums is the full desired membership. Current members
	// not listed are removed through the deletion pipeline; listed
	// checksums not yet members are imported.
	SelectedChecksums [][]byte

	MemberNames map[string]string
	SystemIDs   []int64
}

// UpdateFileSetResult aggregates the two halves of an update run.
type UpdateFileSetResult struct {
	Imported *ImportResult
	Removed  *DeleteResult
}

// UpdateFileSet reconciles a set's membership with the requested selection:
// members that fell out of the selection are unlinked and, when unreferenced
// elsewhere, deleted; new selections are imported into the set.
func (s *Service) UpdateFileSet(req *UpdateFileSetRequest) (*UpdateFileSetResult, error) {
	fs, err := s.repo.FindFileSetByID(req.FileSetID)
	if err != nil {
		return nil, fmt.Errorf("loading file set: %w", err)
	}
	if fs == nil {
		return nil, fmt.Errorf("%w: file set %d", ErrNotFound, req.FileSetID)
	}

	members, err := s.repo.FindFileSetMembers(fs.ID)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}

	selected := make(map[string]bool, len(req.SelectedChecksums))
	for _, sha := range req.SelectedChecksums {
		selected[hex.EncodeToString(sha)] = true
	}

	currentByHex := make(map[string]int64, len(members))
	var removedIDs []int64
	for _, m := range members {
		info, err := s.repo.FindFileInfoByID(m.FileInfoID)
		if err != nil {
			return nil, fmt.Errorf("loading file info %d: %w", m.FileInfoID, err)
		}
		if info == nil {
			return nil, fmt.Errorf("%w: file info %d referenced by set %d", ErrDataInconsistency, m.FileInfoID, fs.ID)
		}
		key := hex.EncodeToString(info.SHA1)
		currentByHex[key] = info.ID
		if !selected[key] {
			removedIDs = append(removedIDs, info.ID)
		}
	}

	result := &UpdateFileSetResult{}

	if len(removedIDs) > 0 {
		pipeline := NewDeletionPipeline(s.repo, s.store, s.clock, s.logger)
		removed, err := pipeline.Run(&DeleteRequest{
			FileSetID:   fs.ID,
			FileInfoIDs: removedIDs,
			Unlink:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("removing members: %w", err)
		}
		result.Removed = removed
	}

	var added [][]byte
	for _, sha := range req.SelectedChecksums {
		if _, ok := currentByHex[hex.EncodeToString(sha)]; !ok {
			added = append(added, sha)
		}
	}
	if len(added) > 0 {
		imported, err := s.Import(&ImportRequest{
			SourcePaths:       req.SourcePaths,
			FileType:          fs.FileType,
			SystemIDs:         req.SystemIDs,
			SelectedChecksums: added,
			MemberNames:       req.MemberNames,
			FileSetID:         fs.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("adding members: %w", err)
		}
		result.Imported = imported
	}

	return result, nil
}

// DeleteFileSet tears a set down through the deletion pipeline. Deletion is
// refused when a release still references the set.
func (s *Service) DeleteFileSet(fileSetID int64) (*DeleteResult, error) {
	fs, err := s.repo.FindFileSetByID(fileSetID)
	if err != nil {
		return nil, fmt.Errorf("loading file set: %w", err)
	}
	if fs == nil {
		return nil, fmt.Errorf("%w: file set %d", ErrNotFound, fileSetID)
	}

	releases, err := s.repo.FindReleasesReferencingFileSet(fileSetID)
	if err != nil {
		return nil, fmt.Errorf("checking releases: %w", err)
	}
	if len(releases) > 0 {
		return nil, fmt.Errorf("%w: file set %q is referenced by %d release(s)", ErrInUse, fs.Name, len(releases))
	}

	pipeline := NewDeletionPipeline(s.repo, s.store, s.clock, s.logger)
	result, err := pipeline.Run(&DeleteRequest{FileSetID: fileSetID, RemoveSet: true})
	if err != nil {
		return nil, err
	}
	s.logger.Info("file set deleted", "file_set", fs.Name, "candidates", len(result.Candidates))
	return result, nil
}

// Sync runs the cloud-synchronisation engine once. The caller owns the
// at-most-one-sync flag and the events channel.
func (s *Service) Sync(ctx context.Context, events chan<- SyncEvent) (SyncSummary, error) {
	if s.connector == nil {
		return SyncSummary{}, fmt.Errorf("no cloud connector configured")
	}
	engine := NewSyncEngine(s.repo, s.store, s.connector, s.clock, s.logger)
	return engine.Run(ctx, events)
}

// SyncHistory returns the full journal for one file, newest first.
func (s *Service) SyncHistory(fileInfoID int64) ([]*model.FileSyncLogEntry, error) {
	return s.repo.ListSyncLog(fileInfoID)
}

// CollectionStatus summarises the collection for the status surface.
type CollectionStatus struct {
	FileInfos        int
	FileSets         int
	Releases         int
	PendingUploads   int
	PendingDeletions int
}

// Status reports entity counts and the replication backlog.
func (s *Service) Status() (*CollectionStatus, error) {
	st := &CollectionStatus{}
	var err error
	if st.FileInfos, err = s.repo.CountFileInfos(); err != nil {
		return nil, fmt.Errorf("counting file infos: %w", err)
	}
	if st.FileSets, err = s.repo.CountFileSets(); err != nil {
		return nil, fmt.Errorf("counting file sets: %w", err)
	}
	if st.Releases, err = s.repo.CountReleases(); err != nil {
		return nil, fmt.Errorf("counting releases: %w", err)
	}
	if st.PendingUploads, err = s.repo.CountByLatestStatus(uploadableStatuses); err != nil {
		return nil, fmt.Errorf("counting pending uploads: %w", err)
	}
	if st.PendingDeletions, err = s.repo.CountByLatestStatus(deletableStatuses); err != nil {
		return nil, fmt.Errorf("counting pending deletions: %w", err)
	}
	return st, nil
}

// VerifyCloud checks that every file whose latest status is UploadCompleted
// is actually present in the bucket and returns the keys that are not.
func (s *Service) VerifyCloud(ctx context.Context) ([]string, error) {
	if s.connector == nil {
		return nil, fmt.Errorf("no cloud connector configured")
	}
	cloud, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	var missing []string
	completed := []model.SyncStatus{model.SyncUploadCompleted}
	for offset := 0; ; offset += syncScanBatchSize {
		page, err := s.repo.PageFileInfosByLatestStatus(completed, syncScanBatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("paging uploaded files: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, cand := range page {
			ok, err := cloud.Exists(ctx, cand.Entry.CloudKey)
			if err != nil {
				return nil, fmt.Errorf("checking %s: %w", cand.Entry.CloudKey, err)
			}
			if !ok {
				missing = append(missing, cand.Entry.CloudKey)
			}
		}
	}
	return missing, nil
}

// CreateRelease creates a release linked to the given title, sets, and
// systems in one transaction.
func (s *Service) CreateRelease(name, softwareTitleName string, fileSetIDs, systemIDs []int64) (*model.Release, error) {
	tx, err := s.repo.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	title, err := tx.FindOrCreateSoftwareTitle(softwareTitleName)
	if err != nil {
		return nil, fmt.Errorf("creating software title: %w", err)
	}

	release := &model.Release{Name: name, CreatedAt: s.clock.Now()}
	if err := tx.InsertRelease(release); err != nil {
		return nil, fmt.Errorf("inserting release: %w", err)
	}
	if err := tx.LinkReleaseSoftwareTitle(release.ID, title.ID); err != nil {
		return nil, fmt.Errorf("linking software title: %w", err)
	}
	for _, id := range fileSetIDs {
		if err := tx.LinkReleaseFileSet(release.ID, id); err != nil {
			return nil, fmt.Errorf("linking file set %d: %w", id, err)
		}
	}
	for _, id := range systemIDs {
		if err := tx.LinkReleaseSystem(release.ID, id); err != nil {
			return nil, fmt.Errorf("linking system %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing release: %w", err)
	}
	s.logger.Info("release created", "release", name)
	return release, nil
}

// AddReleaseItem attaches a typed note to a release.
func (s *Service) AddReleaseItem(releaseID int64, itemType, description string) (*model.ReleaseItem, error) {
	release, err := s.repo.FindReleaseByID(releaseID)
	if err != nil {
		return nil, fmt.Errorf("loading release: %w", err)
	}
	if release == nil {
		return nil, fmt.Errorf("%w: release %d", ErrNotFound, releaseID)
	}
	item := &model.ReleaseItem{ReleaseID: releaseID, ItemType: itemType, Description: description}
	if err := s.repo.AddReleaseItem(item); err != nil {
		return nil, fmt.Errorf("adding release item: %w", err)
	}
	return item, nil
}

// DeleteRelease removes a release; its links and items cascade. The file
// sets it referenced survive.
func (s *Service) DeleteRelease(releaseID int64) error {
	release, err := s.repo.FindReleaseByID(releaseID)
	if err != nil {
		return fmt.Errorf("loading release: %w", err)
	}
	if release == nil {
		return fmt.Errorf("%w: release %d", ErrNotFound, releaseID)
	}
	if err := s.repo.DeleteRelease(releaseID); err != nil {
		return fmt.Errorf("deleting release: %w", err)
	}
	s.logger.Info("release deleted", "release", release.Name)
	return nil
}

// LoadCatalogue stores a pre-parsed catalogue file. Parsing is external.
func (s *Service) LoadCatalogue(df *model.DatFile) error {
	if err := s.repo.SaveDatFile(df); err != nil {
		return fmt.Errorf("saving catalogue: %w", err)
	}
	s.logger.Info("catalogue loaded", "name", df.Name, "games", len(df.Games))
	return nil
}

// Query pass-throughs used by the drivers.

func (s *Service) ListFileSets(fileType model.FileType) ([]*model.FileSet, error) {
	return s.repo.ListFileSets(fileType)
}

func (s *Service) FileSetMembers(fileSetID int64) ([]*model.FileSetMember, error) {
	return s.repo.FindFileSetMembers(fileSetID)
}

func (s *Service) FileInfo(id int64) (*model.FileInfo, error) {
	return s.repo.FindFileInfoByID(id)
}

func (s *Service) ListReleases() ([]*model.Release, error) {
	return s.repo.ListReleases()
}

func (s *Service) ListSystems() ([]*model.System, error) {
	return s.repo.ListSystems()
}

func (s *Service) AddSystem(name string) (*model.System, error) {
	return s.repo.FindOrCreateSystem(name)
}
