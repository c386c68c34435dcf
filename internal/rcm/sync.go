package rcm

import (
	"context"
	"fmt"

	"rcm-go/internal/model"
)

const (
	// syncScanBatchSize pages the cheap index scan for unlogged files.
	syncScanBatchSize = 100

	// syncExecuteBatchSize bounds in-flight state: a crash loses at most
	// one batch, and the progress counter updates frequently.
	syncExecuteBatchSize = 10
)

var uploadableStatuses = []model.SyncStatus{model.SyncUploadPending, model.SyncUploadFailed}
var deletableStatuses = []model.SyncStatus{model.SyncDeletionPending, model.SyncDeletionFailed}

type syncContext struct {
	ctx context.Context

	repo      Repository
	store     Store
	connector CloudConnector
	cloud     CloudStore
	clock     Clock
	logger    Logger

	events chan<- SyncEvent

	totalUploads   int
	totalDeletions int
	summary        SyncSummary
}

// emit delivers a progress event without blocking. The channel is sized by
// the driver; a full channel drops the event, which is harmless.
func (c *syncContext) emit(e SyncEvent) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- e:
	default:
	}
}

func (c *syncContext) cancelled() bool {
	return c.ctx.Err() != nil
}

func (c *syncContext) appendLog(fileInfoID int64, status model.SyncStatus, key, message string) error {
	return c.repo.AppendSyncLog(&model.FileSyncLogEntry{
		FileInfoID: fileInfoID,
		CreatedAt:  c.clock.Now(),
		Status:     status,
		Message:    message,
		CloudKey:   key,
	})
}

// SyncEngine reconciles the vault with the object store: files whose latest
// journal row is upload-pending or upload-failed are (re-)uploaded, files
// whose latest row is deletion-pending or deletion-failed are removed from
// the bucket. Every transition is appended to the journal before and after
// the remote call, so a crash at any point leaves the log truthful.
//
// The engine is reentrancy-free; the driver owns the "at most one sync at a
// time" flag.
type SyncEngine struct {
	repo      Repository
	store     Store
	connector CloudConnector
	clock     Clock
	logger    Logger
}

func NewSyncEngine(repo Repository, store Store, connector CloudConnector, clock Clock, logger Logger) *SyncEngine {
	return &SyncEngine{repo: repo, store: store, connector: connector, clock: clock, logger: logger}
}

// Run executes one sync. Progress events are delivered best-effort on
// events, which may be nil. Cancellation is polled between files; the
// in-flight file is settled normally before the run exits with an error
// matching ErrCancelled. The summary is valid even on cancellation.
func (e *SyncEngine) Run(ctx context.Context, events chan<- SyncEvent) (SyncSummary, error) {
	c := &syncContext{
		ctx:       ctx,
		repo:      e.repo,
		store:     e.store,
		connector: e.connector,
		clock:     e.clock,
		logger:    e.logger,
		events:    events,
	}

	pipeline := NewPipeline[syncContext]("sync", e.logger,
		prepareUploadsStep{},
		prepareDeletionsStep{},
		connectStep{},
		executeUploadsStep{},
		executeDeletionsStep{},
		finishStep{},
	)

	err := pipeline.Run(c)
	return c.summary, err
}

// prepareUploadsStep journals UploadPending for every file info that has no
// journal rows at all, then counts the upload backlog.
type prepareUploadsStep struct{}

func (prepareUploadsStep) Name() string                    { return "PrepareUploads" }
func (prepareUploadsStep) ShouldExecute(*syncContext) bool { return true }

func (prepareUploadsStep) Execute(c *syncContext) StepAction {
	// Each appended row removes the file from the predicate, so the scan
	// always reads the first page until it comes back empty.
	for {
		infos, err := c.repo.PageFileInfosWithoutSyncLog(syncScanBatchSize, 0)
		if err != nil {
			return Abort(fmt.Errorf("scanning unlogged files: %w", err))
		}
		if len(infos) == 0 {
			break
		}

		entries := make([]*model.FileSyncLogEntry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, &model.FileSyncLogEntry{
				FileInfoID: info.ID,
				CreatedAt:  c.clock.Now(),
				Status:     model.SyncUploadPending,
				CloudKey:   info.FileType.CloudKey(info.ArchiveName),
			})
		}
		if err := c.repo.MarkForCloudSync(entries); err != nil {
			return Abort(fmt.Errorf("journalling unlogged files: %w", err))
		}
		c.logger.Info("journalled unlogged files", "count", len(entries))
	}

	count, err := c.repo.CountByLatestStatus(uploadableStatuses)
	if err != nil {
		return Abort(fmt.Errorf("counting pending uploads: %w", err))
	}
	c.totalUploads = count
	return Continue()
}

// prepareDeletionsStep counts the deletion backlog.
type prepareDeletionsStep struct{}

func (prepareDeletionsStep) Name() string                    { return "PrepareDeletions" }
func (prepareDeletionsStep) ShouldExecute(*syncContext) bool { return true }

func (prepareDeletionsStep) Execute(c *syncContext) StepAction {
	count, err := c.repo.CountByLatestStatus(deletableStatuses)
	if err != nil {
		return Abort(fmt.Errorf("counting pending deletions: %w", err))
	}
	c.totalDeletions = count
	return Continue()
}

// connectStep opens the object-store session, but only when there is work.
type connectStep struct{}

func (connectStep) Name() string { return "Connect" }
func (connectStep) ShouldExecute(c *syncContext) bool {
	return (c.totalUploads > 0 || c.totalDeletions > 0) && c.cloud == nil
}

func (connectStep) Execute(c *syncContext) StepAction {
	cloud, err := c.connector.Connect(c.ctx)
	if err != nil {
		return Abort(fmt.Errorf("connecting to object store: %w", err))
	}
	c.cloud = cloud
	return Continue()
}

// executeUploadsStep drives the upload half of the state machine.
type executeUploadsStep struct{}

func (executeUploadsStep) Name() string { return "ExecuteUploads" }
func (executeUploadsStep) ShouldExecute(c *syncContext) bool {
	return c.totalUploads > 0
}

func (executeUploadsStep) Execute(c *syncContext) StepAction {
	c.emit(SyncStarted{Total: c.totalUploads})

	n := 0
	for offset := 0; ; offset += syncExecuteBatchSize {
		page, err := c.repo.PageFileInfosByLatestStatus(uploadableStatuses, syncExecuteBatchSize, offset)
		if err != nil {
			return Abort(fmt.Errorf("paging pending uploads: %w", err))
		}
		if len(page) == 0 {
			break
		}

		for _, cand := range page {
			if c.cancelled() {
				c.emit(SyncCancelled{Summary: c.summary})
				return Abort(ErrCancelled)
			}
			n++
			uploadOne(c, cand, n)
		}
	}
	return Continue()
}

// uploadOne settles one file: InProgress, remote call, Completed or Failed.
func uploadOne(c *syncContext, cand *SyncCandidate, n int) {
	info := cand.FileInfo
	key := cand.Entry.CloudKey

	c.emit(FileUploadStarted{Key: key, Index: n, Total: c.totalUploads})

	if err := c.appendLog(info.ID, model.SyncUploadInProgress, key, ""); err != nil {
		// Journal unavailable; skip the file, the next run retries.
		c.logger.Error("journalling upload start", "key", key, "error", err)
		c.emit(FileUploadFailed{Key: key, Index: n, Total: c.totalUploads, Err: err})
		c.summary.UploadFailed++
		return
	}

	err := func() error {
		f, err := c.store.Open(info.FileType, info.ArchiveName)
		if err != nil {
			return fmt.Errorf("opening vault file: %w", err)
		}
		defer f.Close()

		// The in-flight transfer always runs to completion; cancellation
		// is observed only between files.
		if err := c.cloud.Upload(context.WithoutCancel(c.ctx), key, f, func(p PartProgress) {
			c.emit(PartUploaded{Key: p.Key, Part: p.Part})
		}); err != nil {
			c.emit(PartUploadFailed{Key: key, Err: err})
			return err
		}
		return nil
	}()
	if err != nil {
		c.logger.Error("upload failed", "key", key, "error", err)
		if logErr := c.appendLog(info.ID, model.SyncUploadFailed, key, err.Error()); logErr != nil {
			c.logger.Error("journalling upload failure", "key", key, "error", logErr)
		}
		c.emit(FileUploadFailed{Key: key, Index: n, Total: c.totalUploads, Err: err})
		c.summary.UploadFailed++
		return
	}

	if err := c.appendLog(info.ID, model.SyncUploadCompleted, key, ""); err != nil {
		c.logger.Error("journalling upload completion", "key", key, "error", err)
		c.emit(FileUploadFailed{Key: key, Index: n, Total: c.totalUploads, Err: err})
		c.summary.UploadFailed++
		return
	}

	c.logger.Info("uploaded", "key", key)
	c.emit(FileUploadCompleted{Key: key, Index: n, Total: c.totalUploads})
	c.summary.UploadedOK++
}

// executeDeletionsStep drives the deletion half of the state machine. The
// FileInfo rows are already gone; the journal rows carry everything needed.
type executeDeletionsStep struct{}

func (executeDeletionsStep) Name() string { return "ExecuteDeletions" }
func (executeDeletionsStep) ShouldExecute(c *syncContext) bool {
	return c.totalDeletions > 0
}

func (executeDeletionsStep) Execute(c *syncContext) StepAction {
	n := 0
	for offset := 0; ; offset += syncExecuteBatchSize {
		page, err := c.repo.PageSyncEntriesByLatestStatus(deletableStatuses, syncExecuteBatchSize, offset)
		if err != nil {
			return Abort(fmt.Errorf("paging pending deletions: %w", err))
		}
		if len(page) == 0 {
			break
		}

		for _, entry := range page {
			if c.cancelled() {
				c.emit(SyncCancelled{Summary: c.summary})
				return Abort(ErrCancelled)
			}
			n++
			deleteOne(c, entry, n)
		}
	}
	return Continue()
}

func deleteOne(c *syncContext, entry *model.FileSyncLogEntry, n int) {
	key := entry.CloudKey

	c.emit(FileDeletionStarted{Key: key, Index: n, Total: c.totalDeletions})

	if err := c.appendLog(entry.FileInfoID, model.SyncDeletionInProgress, key, ""); err != nil {
		c.logger.Error("journalling deletion start", "key", key, "error", err)
		c.emit(FileDeletionFailed{Key: key, Index: n, Total: c.totalDeletions, Err: err})
		c.summary.DeleteFailed++
		return
	}

	if err := c.cloud.Delete(context.WithoutCancel(c.ctx), key); err != nil {
		c.logger.Error("deletion failed", "key", key, "error", err)
		if logErr := c.appendLog(entry.FileInfoID, model.SyncDeletionFailed, key, err.Error()); logErr != nil {
			c.logger.Error("journalling deletion failure", "key", key, "error", logErr)
		}
		c.emit(FileDeletionFailed{Key: key, Index: n, Total: c.totalDeletions, Err: err})
		c.summary.DeleteFailed++
		return
	}

	if err := c.appendLog(entry.FileInfoID, model.SyncDeletionCompleted, key, ""); err != nil {
		c.logger.Error("journalling deletion completion", "key", key, "error", err)
		c.emit(FileDeletionFailed{Key: key, Index: n, Total: c.totalDeletions, Err: err})
		c.summary.DeleteFailed++
		return
	}

	c.logger.Info("deleted from cloud", "key", key)
	c.emit(FileDeletionCompleted{Key: key, Index: n, Total: c.totalDeletions})
	c.summary.DeletedOK++
}

// finishStep closes the run.
type finishStep struct{}

func (finishStep) Name() string                    { return "Finish" }
func (finishStep) ShouldExecute(*syncContext) bool { return true }

func (finishStep) Execute(c *syncContext) StepAction {
	c.emit(SyncCompleted{Summary: c.summary})
	c.logger.Info("sync complete",
		"uploaded_ok", c.summary.UploadedOK,
		"upload_failed", c.summary.UploadFailed,
		"deleted_ok", c.summary.DeletedOK,
		"delete_failed", c.summary.DeleteFailed,
	)
	return Continue()
}
