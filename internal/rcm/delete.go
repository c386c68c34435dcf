package rcm

import (
	"fmt"

	"rcm-go/internal/model"
)

// DeleteRequest scopes one deletion run to a file set, optionally to a
// subset of its members.
type DeleteRequest struct {
	FileSetID int64

	// FileInfoIDs restricts the run to these members. Empty means every
	// member of the set.
	FileInfoIDs []int64

	// Unlink removes the scoped members from the set before the
	// reference count is taken. Used by the update-file-set flow.
	Unlink bool

	// RemoveSet deletes the set row itself once the members are handled.
	RemoveSet bool
}

// DeleteCandidate is the per-file outcome of a deletion run.
type DeleteCandidate struct {
	FileInfo     *model.FileInfo
	Deletable    bool
	BytesDeleted bool
	CloudMarked  bool
	RowRemoved   bool
	Errs         []error
}

// DeleteResult aggregates a deletion run.
type DeleteResult struct {
	Candidates []*DeleteCandidate
	SetRemoved bool
}

// Errs collects every per-candidate error.
func (r *DeleteResult) Errs() []error {
	var errs []error
	for _, c := range r.Candidates {
		errs = append(errs, c.Errs...)
	}
	return errs
}

type deleteContext struct {
	req *DeleteRequest

	repo   Repository
	store  Store
	clock  Clock
	logger Logger

	candidates []*DeleteCandidate
	setRemoved bool
}

// DeletionPipeline releases physical bytes no longer referenced by any file
// set, journals cloud-deletion intent, and removes orphaned FileInfo rows.
type DeletionPipeline struct {
	repo   Repository
	store  Store
	clock  Clock
	logger Logger
}

func NewDeletionPipeline(repo Repository, store Store, clock Clock, logger Logger) *DeletionPipeline {
	return &DeletionPipeline{repo: repo, store: store, clock: clock, logger: logger}
}

// Run executes the deletion. Scoping and reference counting abort on error;
// everything after accumulates per-candidate outcomes and keeps going, so a
// partially failed run can simply be retried.
func (p *DeletionPipeline) Run(req *DeleteRequest) (*DeleteResult, error) {
	c := &deleteContext{
		req:    req,
		repo:   p.repo,
		store:  p.store,
		clock:  p.clock,
		logger: p.logger,
	}

	pipeline := NewPipeline[deleteContext]("delete", p.logger,
		scopeCandidatesStep{},
		unlinkMembersStep{},
		filterDeletableStep{},
		deleteLocalBytesStep{},
		markForCloudDeletionStep{},
		deleteFileInfoStep{},
		deleteFileSetStep{},
	)

	if err := pipeline.Run(c); err != nil {
		return nil, err
	}

	return &DeleteResult{Candidates: c.candidates, SetRemoved: c.setRemoved}, nil
}

// scopeCandidatesStep resolves the scoped members to FileInfo rows.
type scopeCandidatesStep struct{}

func (scopeCandidatesStep) Name() string                      { return "ScopeCandidates" }
func (scopeCandidatesStep) ShouldExecute(*deleteContext) bool { return true }

func (scopeCandidatesStep) Execute(c *deleteContext) StepAction {
	members, err := c.repo.FindFileSetMembers(c.req.FileSetID)
	if err != nil {
		return Abort(fmt.Errorf("loading file set members: %w", err))
	}

	scoped := make(map[int64]bool, len(c.req.FileInfoIDs))
	for _, id := range c.req.FileInfoIDs {
		scoped[id] = true
	}

	for _, m := range members {
		if len(c.req.FileInfoIDs) > 0 && !scoped[m.FileInfoID] {
			continue
		}
		info, err := c.repo.FindFileInfoByID(m.FileInfoID)
		if err != nil {
			return Abort(fmt.Errorf("loading file info %d: %w", m.FileInfoID, err))
		}
		if info == nil {
			return Abort(fmt.Errorf("%w: file info %d referenced by set %d", ErrDataInconsistency, m.FileInfoID, c.req.FileSetID))
		}
		c.candidates = append(c.candidates, &DeleteCandidate{FileInfo: info})
	}
	return Continue()
}

// unlinkMembersStep removes the scoped members from the owning set first, so
// the reference count below no longer sees this set. Shrink mode only.
type unlinkMembersStep struct{}

func (unlinkMembersStep) Name() string { return "UnlinkMembers" }
func (unlinkMembersStep) ShouldExecute(c *deleteContext) bool {
	return c.req.Unlink
}

func (unlinkMembersStep) Execute(c *deleteContext) StepAction {
	for _, cand := range c.candidates {
		if err := c.repo.RemoveFileSetMember(c.req.FileSetID, cand.FileInfo.ID); err != nil {
			return Abort(fmt.Errorf("unlinking file info %d: %w", cand.FileInfo.ID, err))
		}
	}
	return Continue()
}

// filterDeletableStep takes the reference count by querying the membership
// table. A candidate is deletable iff no other set references it. No cached
// counter: slower, but impossible to drift.
type filterDeletableStep struct{}

func (filterDeletableStep) Name() string                      { return "FilterDeletable" }
func (filterDeletableStep) ShouldExecute(*deleteContext) bool { return true }

func (filterDeletableStep) Execute(c *deleteContext) StepAction {
	for _, cand := range c.candidates {
		sets, err := c.repo.FindFileSetsReferencingFileInfo(cand.FileInfo.ID)
		if err != nil {
			return Abort(fmt.Errorf("counting references for file info %d: %w", cand.FileInfo.ID, err))
		}

		deletable := true
		for _, fs := range sets {
			if fs.ID != c.req.FileSetID {
				deletable = false
				break
			}
		}
		cand.Deletable = deletable
	}
	return Continue()
}

// deleteLocalBytesStep removes the vault file for every deletable candidate.
// A missing file counts as success so a partially completed run can retry.
type deleteLocalBytesStep struct{}

func (deleteLocalBytesStep) Name() string                      { return "DeleteLocalBytes" }
func (deleteLocalBytesStep) ShouldExecute(*deleteContext) bool { return true }

func (deleteLocalBytesStep) Execute(c *deleteContext) StepAction {
	for _, cand := range c.candidates {
		if !cand.Deletable {
			continue
		}
		info := cand.FileInfo
		if err := c.store.Remove(info.FileType, info.ArchiveName); err != nil {
			cand.Errs = append(cand.Errs, fmt.Errorf("removing vault file %s: %w", info.ArchiveName, err))
			c.logger.Error("removing vault file", "archive", info.ArchiveName, "error", err)
			continue
		}
		cand.BytesDeleted = true
	}
	return Continue()
}

// markForCloudDeletionStep journals DeletionPending for every candidate
// whose bytes are gone and that was ever journalled. The check ignores the
// sync-enabled setting: a file synced in the past must be journalled for
// deletion even while sync is off, so re-enabling it later catches up.
type markForCloudDeletionStep struct{}

func (markForCloudDeletionStep) Name() string                      { return "MarkForCloudDeletion" }
func (markForCloudDeletionStep) ShouldExecute(*deleteContext) bool { return true }

func (markForCloudDeletionStep) Execute(c *deleteContext) StepAction {
	for _, cand := range c.candidates {
		if !cand.BytesDeleted {
			continue
		}
		latest, err := c.repo.LatestSyncLog(cand.FileInfo.ID)
		if err != nil {
			cand.Errs = append(cand.Errs, fmt.Errorf("reading sync log: %w", err))
			continue
		}
		if latest == nil {
			// Never journalled, nothing in the cloud to remove.
			continue
		}
		err = c.repo.AppendSyncLog(&model.FileSyncLogEntry{
			FileInfoID: cand.FileInfo.ID,
			CreatedAt:  c.clock.Now(),
			Status:     model.SyncDeletionPending,
			CloudKey:   latest.CloudKey,
		})
		if err != nil {
			cand.Errs = append(cand.Errs, fmt.Errorf("journalling cloud deletion: %w", err))
			continue
		}
		cand.CloudMarked = true
	}
	return Continue()
}

// deleteFileInfoStep removes the now-orphaned FileInfo rows. Foreign keys
// cascade the membership and system links away. Failures are recorded, not
// fatal.
type deleteFileInfoStep struct{}

func (deleteFileInfoStep) Name() string                      { return "DeleteFileInfo" }
func (deleteFileInfoStep) ShouldExecute(*deleteContext) bool { return true }

func (deleteFileInfoStep) Execute(c *deleteContext) StepAction {
	for _, cand := range c.candidates {
		if !cand.BytesDeleted {
			continue
		}
		if err := c.repo.DeleteFileInfo(cand.FileInfo.ID); err != nil {
			cand.Errs = append(cand.Errs, fmt.Errorf("deleting file info row: %w", err))
			c.logger.Error("deleting file info row", "file_info_id", cand.FileInfo.ID, "error", err)
			continue
		}
		cand.RowRemoved = true
	}
	return Continue()
}

// deleteFileSetStep removes the set row itself; member links cascade.
type deleteFileSetStep struct{}

func (deleteFileSetStep) Name() string { return "DeleteFileSet" }
func (deleteFileSetStep) ShouldExecute(c *deleteContext) bool {
	return c.req.RemoveSet
}

func (deleteFileSetStep) Execute(c *deleteContext) StepAction {
	if err := c.repo.DeleteFileSet(c.req.FileSetID); err != nil {
		return Abort(fmt.Errorf("deleting file set %d: %w", c.req.FileSetID, err))
	}
	c.setRemoved = true
	return Continue()
}
