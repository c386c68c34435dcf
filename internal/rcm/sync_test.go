package rcm_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"rcm-go/internal/cloud"
	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
	"rcm-go/internal/testutil"
)

func newSyncEngine(f *importFixture, store *cloud.MemoryStore) *rcm.SyncEngine {
	return rcm.NewSyncEngine(f.repo, f.store,
		&cloud.StaticConnector{Store: store}, testutil.FixedClock(), rcm.NewNopLogger())
}

// interruptingStore cancels the run's context during the first upload. The
// upload itself fails if the context it receives carries that cancellation.
type interruptingStore struct {
	*cloud.MemoryStore
	cancel context.CancelFunc
}

func (s *interruptingStore) Upload(ctx context.Context, key string, r io.Reader, progress func(rcm.PartProgress)) error {
	s.cancel()
	return s.MemoryStore.Upload(ctx, key, r, progress)
}

func TestSyncEngine_Run(t *testing.T) {
	t.Run("uploads pending files and journals completion", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Pending", map[string][]byte{
			"a.rom": []byte("a data"),
			"b.rom": []byte("b data"),
		})

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)

		summary, err := engine.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.UploadedOK != 2 || summary.UploadFailed != 0 {
			t.Errorf("summary = %+v, want 2 uploads", summary)
		}
		if bucket.Len() != 2 {
			t.Errorf("bucket holds %d objects, want 2", bucket.Len())
		}

		for _, info := range imported.Created {
			key := info.FileType.CloudKey(info.ArchiveName)
			if bucket.Object(key) == nil {
				t.Errorf("object %s missing from bucket", key)
			}
			entry, err := f.repo.LatestSyncLog(info.ID)
			if err != nil {
				t.Fatalf("LatestSyncLog() error = %v", err)
			}
			if entry == nil || entry.Status != model.SyncUploadCompleted {
				t.Errorf("latest entry for %s = %+v, want upload_completed", key, entry)
			}
		}
	})

	t.Run("journals files imported while sync was off", func(t *testing.T) {
		f := newImportFixture(t, false)
		imported := importSet(t, f, "Unlogged", map[string][]byte{"late.rom": []byte("late data")})

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)

		summary, err := engine.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.UploadedOK != 1 {
			t.Errorf("summary = %+v, want 1 upload", summary)
		}

		entry, err := f.repo.LatestSyncLog(imported.Created[0].ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry == nil || entry.Status != model.SyncUploadCompleted {
			t.Errorf("latest entry = %+v, want upload_completed", entry)
		}
	})

	t.Run("failed uploads are retried on the next run", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Flaky", map[string][]byte{"flaky.rom": []byte("flaky data")})
		info := imported.Created[0]

		bucket := cloud.NewMemoryStore()
		bucket.FailUploads = 1
		engine := newSyncEngine(f, bucket)

		events := make(chan rcm.SyncEvent, 64)
		summary, err := engine.Run(context.Background(), events)
		if err != nil {
			t.Fatalf("first Run() error = %v", err)
		}
		close(events)
		if summary.UploadFailed != 1 || summary.UploadedOK != 0 {
			t.Errorf("first summary = %+v, want 1 failure", summary)
		}

		var partFailed, fileFailed bool
		for ev := range events {
			switch e := ev.(type) {
			case rcm.PartUploadFailed:
				partFailed = true
				if fileFailed {
					t.Error("PartUploadFailed arrived after FileUploadFailed")
				}
				if e.Err == nil {
					t.Error("PartUploadFailed carries no error")
				}
			case rcm.FileUploadFailed:
				fileFailed = true
			}
		}
		if !partFailed || !fileFailed {
			t.Errorf("failure events: part=%v file=%v, want both", partFailed, fileFailed)
		}
		entry, err := f.repo.LatestSyncLog(info.ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry == nil || entry.Status != model.SyncUploadFailed {
			t.Fatalf("latest entry = %+v, want upload_failed", entry)
		}
		if entry.Message == "" {
			t.Error("failure row carries no message")
		}

		summary, err = engine.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("second Run() error = %v", err)
		}
		if summary.UploadedOK != 1 {
			t.Errorf("second summary = %+v, want 1 upload", summary)
		}
		if bucket.Len() != 1 {
			t.Errorf("bucket holds %d objects, want 1", bucket.Len())
		}
	})

	t.Run("executes journalled deletions", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Doomed", map[string][]byte{"doomed.rom": []byte("doomed data")})
		info := imported.Created[0]
		key := info.FileType.CloudKey(info.ArchiveName)

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)
		if _, err := engine.Run(context.Background(), nil); err != nil {
			t.Fatalf("upload Run() error = %v", err)
		}

		deletion := rcm.NewDeletionPipeline(f.repo, f.store, testutil.FixedClock(), rcm.NewNopLogger())
		if _, err := deletion.Run(&rcm.DeleteRequest{FileSetID: imported.FileSet.ID, RemoveSet: true}); err != nil {
			t.Fatalf("deletion Run() error = %v", err)
		}

		events := make(chan rcm.SyncEvent, 64)
		summary, err := engine.Run(context.Background(), events)
		if err != nil {
			t.Fatalf("deletion sync Run() error = %v", err)
		}
		close(events)
		if summary.DeletedOK != 1 || summary.DeleteFailed != 0 {
			t.Errorf("summary = %+v, want 1 deletion", summary)
		}
		if bucket.Len() != 0 {
			t.Errorf("bucket holds %d objects, want 0", bucket.Len())
		}

		var delStarted, delCompleted bool
		for ev := range events {
			switch e := ev.(type) {
			case rcm.FileDeletionStarted:
				delStarted = true
				if e.Key != key || e.Index != 1 || e.Total != 1 {
					t.Errorf("FileDeletionStarted = %+v, want key %s, 1 of 1", e, key)
				}
			case rcm.FileDeletionCompleted:
				delCompleted = true
				if e.Key != key || e.Index != 1 || e.Total != 1 {
					t.Errorf("FileDeletionCompleted = %+v, want key %s, 1 of 1", e, key)
				}
			}
		}
		if !delStarted || !delCompleted {
			t.Errorf("deletion events: started=%v completed=%v, want both", delStarted, delCompleted)
		}

		// The journal outlives the FileInfo row.
		entry, err := f.repo.LatestSyncLog(info.ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry == nil || entry.Status != model.SyncDeletionCompleted {
			t.Errorf("latest entry = %+v, want deletion_completed for key %s", entry, key)
		}
	})

	t.Run("cancellation settles nothing and keeps files pending", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Interrupted", map[string][]byte{"slow.rom": []byte("slow data")})
		info := imported.Created[0]

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		summary, err := engine.Run(ctx, nil)
		if !errors.Is(err, rcm.ErrCancelled) {
			t.Fatalf("Run() error = %v, want ErrCancelled", err)
		}
		if summary.UploadedOK != 0 {
			t.Errorf("summary = %+v, want nothing uploaded", summary)
		}

		entry, err := f.repo.LatestSyncLog(info.ID)
		if err != nil {
			t.Fatalf("LatestSyncLog() error = %v", err)
		}
		if entry == nil || entry.Status != model.SyncUploadPending {
			t.Errorf("latest entry = %+v, want upload_pending", entry)
		}
	})

	t.Run("cancellation mid-upload lets the transfer finish", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Interrupted mid-flight", map[string][]byte{
			"first.rom":  []byte("first data"),
			"second.rom": []byte("second data"),
		})

		bucket := cloud.NewMemoryStore()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		engine := rcm.NewSyncEngine(f.repo, f.store,
			&cloud.StaticConnector{Store: &interruptingStore{MemoryStore: bucket, cancel: cancel}},
			testutil.FixedClock(), rcm.NewNopLogger())

		events := make(chan rcm.SyncEvent, 64)
		summary, err := engine.Run(ctx, events)
		if !errors.Is(err, rcm.ErrCancelled) {
			t.Fatalf("Run() error = %v, want ErrCancelled", err)
		}
		close(events)

		// The upload the cancellation raced must have settled normally;
		// the other file never started.
		if summary.UploadedOK != 1 || summary.UploadFailed != 0 {
			t.Errorf("summary = %+v, want 1 clean upload", summary)
		}
		if bucket.Len() != 1 {
			t.Errorf("bucket holds %d objects, want 1", bucket.Len())
		}

		var completed, pending int
		for _, info := range imported.Created {
			entry, err := f.repo.LatestSyncLog(info.ID)
			if err != nil {
				t.Fatalf("LatestSyncLog() error = %v", err)
			}
			switch {
			case entry == nil:
				t.Fatalf("file %d has no journal rows", info.ID)
			case entry.Status == model.SyncUploadCompleted:
				completed++
			case entry.Status == model.SyncUploadPending:
				pending++
			default:
				t.Errorf("unexpected latest status %s for file %d", entry.Status, info.ID)
			}
		}
		if completed != 1 || pending != 1 {
			t.Errorf("completed = %d, pending = %d, want 1 and 1", completed, pending)
		}

		var sawCancelled bool
		for ev := range events {
			if e, ok := ev.(rcm.SyncCancelled); ok {
				sawCancelled = true
				if e.Summary.UploadedOK != 1 {
					t.Errorf("SyncCancelled summary = %+v, want 1 upload", e.Summary)
				}
			}
		}
		if !sawCancelled {
			t.Error("no SyncCancelled event emitted")
		}
	})

	t.Run("a second run after success is a no-op", func(t *testing.T) {
		f := newImportFixture(t, true)
		imported := importSet(t, f, "Settled", map[string][]byte{"done.rom": []byte("done data")})
		info := imported.Created[0]

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)

		if _, err := engine.Run(context.Background(), nil); err != nil {
			t.Fatalf("first Run() error = %v", err)
		}
		history, err := f.repo.ListSyncLog(info.ID)
		if err != nil {
			t.Fatalf("ListSyncLog() error = %v", err)
		}

		summary, err := engine.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("second Run() error = %v", err)
		}
		if summary != (rcm.SyncSummary{}) {
			t.Errorf("second summary = %+v, want zero", summary)
		}

		again, err := f.repo.ListSyncLog(info.ID)
		if err != nil {
			t.Fatalf("ListSyncLog() error = %v", err)
		}
		if len(again) != len(history) {
			t.Errorf("journal grew from %d to %d rows on a no-op run", len(history), len(again))
		}
	})

	t.Run("a clean backlog never opens a connection", func(t *testing.T) {
		f := newImportFixture(t, true)

		engine := rcm.NewSyncEngine(f.repo, f.store,
			&cloud.StaticConnector{Err: errors.New("must not connect")},
			testutil.FixedClock(), rcm.NewNopLogger())

		summary, err := engine.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary != (rcm.SyncSummary{}) {
			t.Errorf("summary = %+v, want zero", summary)
		}
	})

	t.Run("emits progress events", func(t *testing.T) {
		f := newImportFixture(t, true)
		importSet(t, f, "Observed", map[string][]byte{"seen.rom": []byte("seen data")})

		bucket := cloud.NewMemoryStore()
		engine := newSyncEngine(f, bucket)

		events := make(chan rcm.SyncEvent, 64)
		if _, err := engine.Run(context.Background(), events); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		close(events)

		var started, completed, finished bool
		for ev := range events {
			switch e := ev.(type) {
			case rcm.SyncStarted:
				started = true
				if e.Total != 1 {
					t.Errorf("SyncStarted.Total = %d, want 1", e.Total)
				}
			case rcm.FileUploadCompleted:
				completed = true
			case rcm.SyncCompleted:
				finished = true
				if e.Summary.UploadedOK != 1 {
					t.Errorf("SyncCompleted summary = %+v, want 1 upload", e.Summary)
				}
			}
		}
		if !started || !completed || !finished {
			t.Errorf("events: started=%v completed=%v finished=%v, want all", started, completed, finished)
		}
	})
}
