package rcm

// SyncEvent is the tagged union of progress events emitted during a sync
// run. Events are delivered best-effort on a buffered channel to a single
// consumer; a dropped event never affects correctness. For a single file the
// order is Started, zero or more part events, then exactly one of Completed
// or Failed.
type SyncEvent interface {
	syncEvent()
}

// SyncStarted opens the upload phase. Total is the number of files that had
// no journal rows plus those already pending when the run began.
type SyncStarted struct {
	Total int
}

// FileUploadStarted reports that file Index of Total is being uploaded.
type FileUploadStarted struct {
	Key   string
	Index int
	Total int
}

// PartUploaded reports one completed multipart chunk.
type PartUploaded struct {
	Key  string
	Part int
}

// PartUploadFailed reports a transfer that failed mid-upload. The file-level
// outcome follows as FileUploadFailed.
type PartUploadFailed struct {
	Key string
	Err error
}

// FileUploadCompleted reports a successful upload.
type FileUploadCompleted struct {
	Key   string
	Index int
	Total int
}

// FileUploadFailed reports a failed upload. The file stays eligible for the
// next run.
type FileUploadFailed struct {
	Key   string
	Index int
	Total int
	Err   error
}

// FileDeletionStarted reports that object Index of Total is being removed
// from the bucket.
type FileDeletionStarted struct {
	Key   string
	Index int
	Total int
}

// FileDeletionCompleted reports a successful bucket deletion.
type FileDeletionCompleted struct {
	Key   string
	Index int
	Total int
}

// FileDeletionFailed reports a failed bucket deletion.
type FileDeletionFailed struct {
	Key   string
	Index int
	Total int
	Err   error
}

// SyncCompleted closes a run that was not cancelled.
type SyncCompleted struct {
	Summary SyncSummary
}

// SyncCancelled closes a run that observed the cancellation signal. The
// journal reflects exactly what happened before the exit.
type SyncCancelled struct {
	Summary SyncSummary
}

func (SyncStarted) syncEvent()           {}
func (FileUploadStarted) syncEvent()     {}
func (PartUploaded) syncEvent()          {}
func (PartUploadFailed) syncEvent()      {}
func (FileUploadCompleted) syncEvent()   {}
func (FileUploadFailed) syncEvent()      {}
func (FileDeletionStarted) syncEvent()   {}
func (FileDeletionCompleted) syncEvent() {}
func (FileDeletionFailed) syncEvent()    {}
func (SyncCompleted) syncEvent()         {}
func (SyncCancelled) syncEvent()         {}

// SyncSummary is the aggregate outcome of one sync run.
type SyncSummary struct {
	UploadedOK   int
	UploadFailed int
	DeletedOK    int
	DeleteFailed int
}
