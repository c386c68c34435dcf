package rcm

import (
	"archive/zip"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"rcm-go/internal/model"
)

// ReleaseRequest asks the import pipeline to create a release for the new
// file set.
type ReleaseRequest struct {
	ReleaseName       string
	SoftwareTitleName string
}

// ImportRequest describes one import run.
type ImportRequest struct {
	// SourcePaths are absolute paths, each a regular file or a ZIP.
	SourcePaths []string

	FileType  model.FileType
	SystemIDs []int64

	// SelectedChecksums filters which discovered checksums to import.
	// nil means every checksum the reader finds.
	SelectedChecksums [][]byte

	// MemberNames overrides member filenames, keyed by hex SHA-1. Absent
	// entries fall back to the name observed by the reader.
	MemberNames map[string]string

	FileSetName          string
	FileSetCanonicalName string
	Source               string

	// Release, when present, creates a release linked to the new set.
	Release *ReleaseRequest

	// FileSetID, when non-zero, adds members to an existing set instead
	// of creating one.
	FileSetID int64
}

// ImportResult is the aggregate outcome of one import run.
type ImportResult struct {
	FileSet  *model.FileSet
	Release  *model.Release
	Created  []*model.FileInfo // newly staged and persisted
	Existing []*model.FileInfo // deduplicated against the vault

	// Matches maps hex SHA-1 to catalogue roms with that checksum.
	Matches map[string][]*model.DatRom

	// StepErrors records non-fatal per-step failures by step name.
	StepErrors map[string]error
}

type stagedImport struct {
	rec         FileRecord
	archiveName string
	staged      bool
	info        *model.FileInfo
}

type importMember struct {
	info *model.FileInfo
	name string
}

// importContext is the mutable state threaded through the import steps.
type importContext struct {
	req *ImportRequest

	repo        Repository
	store       Store
	reader      MetadataReader
	clock       Clock
	namer       ArchiveNamer
	logger      Logger
	syncEnabled bool

	records  map[string]FileRecord // hex SHA-1 -> first record seen
	order    []string              // hex SHA-1 in discovery order
	selected []string              // hex SHA-1 surviving the selection filter

	newFiles []*stagedImport
	existing []*importMember

	matches map[string][]*model.DatRom

	tx        Tx
	committed bool
	fileSet   *model.FileSet
	release   *model.Release
	created   []*model.FileInfo

	stepErrors map[string]error
}

func (c *importContext) memberName(hexSHA string) string {
	if name, ok := c.req.MemberNames[hexSHA]; ok && name != "" {
		return name
	}
	if rec, ok := c.records[hexSHA]; ok {
		return rec.Name
	}
	// Last resort: a catalogue match supplies the original filename.
	if roms := c.matches[hexSHA]; len(roms) > 0 {
		return roms[0].Name
	}
	return ""
}

func (c *importContext) removeStaged() {
	for _, sf := range c.newFiles {
		if !sf.staged {
			continue
		}
		if err := c.store.Remove(c.req.FileType, sf.archiveName); err != nil {
			c.logger.Warn("removing staged bytes", "archive", sf.archiveName, "error", err)
		}
		sf.staged = false
	}
}

// ImportPipeline ingests user-supplied files into the vault and the
// metadata repository.
type ImportPipeline struct {
	repo        Repository
	store       Store
	reader      MetadataReader
	clock       Clock
	namer       ArchiveNamer
	logger      Logger
	syncEnabled bool
}

// NewImportPipeline wires an import pipeline. syncEnabled controls whether
// newly created files are journalled for cloud upload.
func NewImportPipeline(repo Repository, store Store, reader MetadataReader, clock Clock, namer ArchiveNamer, logger Logger, syncEnabled bool) *ImportPipeline {
	return &ImportPipeline{
		repo:        repo,
		store:       store,
		reader:      reader,
		clock:       clock,
		namer:       namer,
		logger:      logger,
		syncEnabled: syncEnabled,
	}
}

// Run executes the import. On abort nothing is persisted: the transaction is
// rolled back and staged bytes are removed. Non-fatal failures are reported
// in the result's StepErrors.
func (p *ImportPipeline) Run(req *ImportRequest) (*ImportResult, error) {
	c := &importContext{
		req:         req,
		repo:        p.repo,
		store:       p.store,
		reader:      p.reader,
		clock:       p.clock,
		namer:       p.namer,
		logger:      p.logger,
		syncEnabled: p.syncEnabled,
		records:     make(map[string]FileRecord),
		matches:     make(map[string][]*model.DatRom),
		stepErrors:  make(map[string]error),
	}

	pipeline := NewPipeline[importContext]("import", p.logger,
		collectMetadataStep{},
		matchCatalogueStep{},
		checkExistingStep{},
		stageBytesStep{},
		persistFileInfosStep{},
		persistFileSetStep{},
		maybeCreateReleaseStep{},
		commitImportStep{},
		markForCloudSyncStep{},
	)

	if err := pipeline.Run(c); err != nil {
		if c.tx != nil && !c.committed {
			if rbErr := c.tx.Rollback(); rbErr != nil {
				p.logger.Error("rolling back import", "error", rbErr)
			}
		}
		c.removeStaged()
		return nil, err
	}

	result := &ImportResult{
		FileSet:    c.fileSet,
		Release:    c.release,
		Created:    c.created,
		Matches:    c.matches,
		StepErrors: c.stepErrors,
	}
	for _, m := range c.existing {
		result.Existing = append(result.Existing, m.info)
	}
	return result, nil
}

// collectMetadataStep reads every source path through the metadata reader
// and collapses duplicate checksums, first name wins.
type collectMetadataStep struct{}

func (collectMetadataStep) Name() string                      { return "CollectMetadata" }
func (collectMetadataStep) ShouldExecute(*importContext) bool { return true }

func (collectMetadataStep) Execute(c *importContext) StepAction {
	for _, path := range c.req.SourcePaths {
		records, err := c.reader.ReadMetadata(path)
		if err != nil {
			return Abort(fmt.Errorf("reading %s: %w", path, err))
		}
		for _, rec := range records {
			key := hex.EncodeToString(rec.SHA1)
			if _, seen := c.records[key]; seen {
				continue
			}
			c.records[key] = rec
			c.order = append(c.order, key)
		}
	}

	// Resolve the selection filter against the discovered records.
	// Checksums selected but not discovered stay in; CheckExisting
	// resolves them against the repository.
	if c.req.SelectedChecksums == nil {
		c.selected = c.order
		return Continue()
	}

	wanted := make(map[string]bool, len(c.req.SelectedChecksums))
	for _, sha := range c.req.SelectedChecksums {
		wanted[hex.EncodeToString(sha)] = true
	}
	for _, key := range c.order {
		if wanted[key] {
			c.selected = append(c.selected, key)
			delete(wanted, key)
		}
	}
	for _, sha := range c.req.SelectedChecksums {
		key := hex.EncodeToString(sha)
		if wanted[key] {
			c.selected = append(c.selected, key)
			delete(wanted, key)
		}
	}
	return Continue()
}

// matchCatalogueStep looks every selected checksum up in the catalogue.
// Failures are non-fatal; the import proceeds unmatched.
type matchCatalogueStep struct{}

func (matchCatalogueStep) Name() string { return "MatchCatalogue" }
func (matchCatalogueStep) ShouldExecute(c *importContext) bool {
	return len(c.selected) > 0
}

func (matchCatalogueStep) Execute(c *importContext) StepAction {
	for _, key := range c.selected {
		sha, err := hex.DecodeString(key)
		if err != nil {
			continue
		}
		roms, err := c.repo.FindDatRomsByChecksum(sha)
		if err != nil {
			c.stepErrors["MatchCatalogue"] = err
			c.logger.Warn("catalogue lookup failed", "sha1", key, "error", err)
			return Continue()
		}
		if len(roms) > 0 {
			c.matches[key] = roms
		}
	}
	return Continue()
}

// checkExistingStep splits the selection into files that must be staged and
// files already present in the vault.
type checkExistingStep struct{}

func (checkExistingStep) Name() string { return "CheckExisting" }
func (checkExistingStep) ShouldExecute(c *importContext) bool {
	return len(c.selected) > 0
}

func (checkExistingStep) Execute(c *importContext) StepAction {
	for _, key := range c.selected {
		sha, err := hex.DecodeString(key)
		if err != nil {
			return Abort(fmt.Errorf("bad checksum %q: %w", key, err))
		}

		existing, err := c.repo.FindFileInfoByChecksum(sha, c.req.FileType)
		if err != nil {
			return Abort(fmt.Errorf("checking for existing file: %w", err))
		}

		rec, discovered := c.records[key]
		switch {
		case existing != nil:
			name := c.memberName(key)
			if name == "" {
				// Selected checksum backed only by an existing
				// FileInfo and no name source anywhere. Drop
				// the member rather than guess.
				c.logger.Error("no member name for selected checksum, dropping",
					"sha1", key, "file_info_id", existing.ID)
				c.stepErrors["CheckExisting"] = fmt.Errorf("%w: no member name for %s", ErrDataInconsistency, key)
				continue
			}
			c.existing = append(c.existing, &importMember{info: existing, name: name})
		case discovered:
			c.newFiles = append(c.newFiles, &stagedImport{rec: rec})
		default:
			c.logger.Error("selected checksum has no source, dropping", "sha1", key)
			c.stepErrors["CheckExisting"] = fmt.Errorf("%w: no source supplies %s", ErrDataInconsistency, key)
		}
	}
	return Continue()
}

// stageBytesStep copies new files into the vault. Each file is stored as a
// single-member ZIP whose one member keeps the original filename; members
// are Deflate-compressed for every file type. Callers never observe the
// container.
type stageBytesStep struct{}

func (stageBytesStep) Name() string { return "StageBytes" }
func (stageBytesStep) ShouldExecute(c *importContext) bool {
	return len(c.newFiles) > 0
}

func (stageBytesStep) Execute(c *importContext) StepAction {
	for _, sf := range c.newFiles {
		sf.archiveName = c.namer.New()

		err := c.store.Write(c.req.FileType, sf.archiveName, func(w io.Writer) error {
			src, err := c.reader.OpenRecord(sf.rec)
			if err != nil {
				return fmt.Errorf("opening source: %w", err)
			}
			defer src.Close()

			zw := zip.NewWriter(w)
			member, err := zw.Create(sf.rec.Name)
			if err != nil {
				return fmt.Errorf("creating archive member: %w", err)
			}
			if _, err := io.Copy(member, src); err != nil {
				return fmt.Errorf("copying source: %w", err)
			}
			return zw.Close()
		})
		if err != nil {
			// Partial abort: staged bytes are removed by Run.
			return Abort(fmt.Errorf("staging %s: %w", sf.rec.Name, err))
		}
		sf.staged = true
	}
	return Continue()
}

// persistFileInfosStep opens the import transaction and inserts one FileInfo
// per staged file, linking each to every target system. A conflict means we
// lost a race since CheckExisting: the existing row wins and the just-staged
// bytes are discarded.
type persistFileInfosStep struct{}

func (persistFileInfosStep) Name() string { return "PersistFileInfo" }
func (persistFileInfosStep) ShouldExecute(c *importContext) bool {
	return len(c.newFiles) > 0 || len(c.existing) > 0
}

func (persistFileInfosStep) Execute(c *importContext) StepAction {
	tx, err := c.repo.Begin()
	if err != nil {
		return Abort(fmt.Errorf("beginning transaction: %w", err))
	}
	c.tx = tx

	kept := c.newFiles[:0]
	for _, sf := range c.newFiles {
		info := &model.FileInfo{
			SHA1:        sf.rec.SHA1,
			Size:        sf.rec.Size,
			ArchiveName: sf.archiveName,
			FileType:    c.req.FileType,
			CreatedAt:   c.clock.Now(),
		}
		err := tx.InsertFileInfo(info)
		if errors.Is(err, ErrConflict) {
			winner, findErr := tx.FindFileInfoByChecksum(sf.rec.SHA1, c.req.FileType)
			if findErr != nil {
				return Abort(fmt.Errorf("re-reading conflicting row: %w", findErr))
			}
			if winner == nil {
				return Abort(fmt.Errorf("%w: conflicting row vanished", ErrDataInconsistency))
			}
			c.logger.Info("lost import race, reusing existing file",
				"sha1", hex.EncodeToString(sf.rec.SHA1), "file_info_id", winner.ID)
			if rmErr := c.store.Remove(c.req.FileType, sf.archiveName); rmErr != nil {
				c.logger.Warn("removing race-lost bytes", "archive", sf.archiveName, "error", rmErr)
			}
			sf.staged = false
			c.existing = append(c.existing, &importMember{info: winner, name: sf.rec.Name})
			continue
		}
		if err != nil {
			return Abort(fmt.Errorf("inserting file info: %w", err))
		}

		for _, systemID := range c.req.SystemIDs {
			if err := tx.LinkFileInfoSystem(info.ID, systemID); err != nil {
				return Abort(fmt.Errorf("linking system %d: %w", systemID, err))
			}
		}

		sf.info = info
		c.created = append(c.created, info)
		kept = append(kept, sf)
	}
	c.newFiles = kept
	return Continue()
}

// persistFileSetStep inserts the file set (or reuses the existing one in
// update mode) and links every member, new and deduplicated alike.
type persistFileSetStep struct{}

func (persistFileSetStep) Name() string { return "PersistFileSet" }
func (persistFileSetStep) ShouldExecute(c *importContext) bool {
	return c.tx != nil
}

func (persistFileSetStep) Execute(c *importContext) StepAction {
	position := 0

	if c.req.FileSetID != 0 {
		fs, err := c.tx.FindFileSetByID(c.req.FileSetID)
		if err != nil {
			return Abort(fmt.Errorf("loading file set: %w", err))
		}
		if fs == nil {
			return Abort(fmt.Errorf("%w: file set %d", ErrNotFound, c.req.FileSetID))
		}
		members, err := c.tx.FindFileSetMembers(fs.ID)
		if err != nil {
			return Abort(fmt.Errorf("loading file set members: %w", err))
		}
		for _, m := range members {
			if m.Position >= position {
				position = m.Position + 1
			}
		}
		c.fileSet = fs
	} else {
		fs := &model.FileSet{
			Name:          c.req.FileSetName,
			CanonicalName: c.req.FileSetCanonicalName,
			FileType:      c.req.FileType,
			Source:        c.req.Source,
			CreatedAt:     c.clock.Now(),
		}
		if err := c.tx.InsertFileSet(fs); err != nil {
			return Abort(fmt.Errorf("inserting file set: %w", err))
		}
		c.fileSet = fs
	}

	add := func(info *model.FileInfo, name string) error {
		err := c.tx.AddFileSetMember(&model.FileSetMember{
			FileSetID:  c.fileSet.ID,
			FileInfoID: info.ID,
			MemberName: name,
			Position:   position,
		})
		if err != nil {
			return err
		}
		position++
		return nil
	}

	for _, sf := range c.newFiles {
		name := c.memberName(hex.EncodeToString(sf.rec.SHA1))
		if err := add(sf.info, name); err != nil {
			return Abort(fmt.Errorf("adding member %s: %w", name, err))
		}
	}
	for _, m := range c.existing {
		if err := add(m.info, m.name); err != nil {
			return Abort(fmt.Errorf("adding member %s: %w", m.name, err))
		}
	}
	return Continue()
}

// maybeCreateReleaseStep creates a release, its software title, and the link
// rows when the request asks for one.
type maybeCreateReleaseStep struct{}

func (maybeCreateReleaseStep) Name() string { return "MaybeCreateRelease" }
func (maybeCreateReleaseStep) ShouldExecute(c *importContext) bool {
	return c.req.Release != nil && c.tx != nil && c.fileSet != nil
}

func (maybeCreateReleaseStep) Execute(c *importContext) StepAction {
	title, err := c.tx.FindOrCreateSoftwareTitle(c.req.Release.SoftwareTitleName)
	if err != nil {
		return Abort(fmt.Errorf("creating software title: %w", err))
	}

	release := &model.Release{
		Name:      c.req.Release.ReleaseName,
		CreatedAt: c.clock.Now(),
	}
	if err := c.tx.InsertRelease(release); err != nil {
		return Abort(fmt.Errorf("inserting release: %w", err))
	}

	if err := c.tx.LinkReleaseSoftwareTitle(release.ID, title.ID); err != nil {
		return Abort(fmt.Errorf("linking software title: %w", err))
	}
	if err := c.tx.LinkReleaseFileSet(release.ID, c.fileSet.ID); err != nil {
		return Abort(fmt.Errorf("linking file set: %w", err))
	}
	for _, systemID := range c.req.SystemIDs {
		if err := c.tx.LinkReleaseSystem(release.ID, systemID); err != nil {
			return Abort(fmt.Errorf("linking system %d: %w", systemID, err))
		}
	}

	c.release = release
	return Continue()
}

// commitImportStep commits the metadata transaction. Everything after this
// step is outside the transaction and non-fatal.
type commitImportStep struct{}

func (commitImportStep) Name() string { return "Commit" }
func (commitImportStep) ShouldExecute(c *importContext) bool {
	return c.tx != nil
}

func (commitImportStep) Execute(c *importContext) StepAction {
	if err := c.tx.Commit(); err != nil {
		return Abort(fmt.Errorf("committing import: %w", err))
	}
	c.committed = true
	return Continue()
}

// markForCloudSyncStep journals an UploadPending row for every newly created
// file. Failure is non-fatal: the next full sync re-scans for unlogged files
// and picks them up.
type markForCloudSyncStep struct{}

func (markForCloudSyncStep) Name() string { return "MarkForCloudSync" }
func (markForCloudSyncStep) ShouldExecute(c *importContext) bool {
	return c.syncEnabled && len(c.created) > 0
}

func (markForCloudSyncStep) Execute(c *importContext) StepAction {
	entries := make([]*model.FileSyncLogEntry, 0, len(c.created))
	for _, info := range c.created {
		entries = append(entries, &model.FileSyncLogEntry{
			FileInfoID: info.ID,
			CreatedAt:  c.clock.Now(),
			Status:     model.SyncUploadPending,
			CloudKey:   info.FileType.CloudKey(info.ArchiveName),
		})
	}
	if err := c.repo.MarkForCloudSync(entries); err != nil {
		c.logger.Warn("marking for cloud sync failed", "error", err)
		c.stepErrors["MarkForCloudSync"] = err
	}
	return Continue()
}
