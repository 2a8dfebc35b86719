package download_manager

import "time"

// TaskType categorizes what a download task is fetching. It is opaque to
// the executor and exists so the UI can group tasks per screen.
type TaskType string

const (
	TypeDocument           = TaskType("document")
	TypeHomeworkAttachment = TaskType("homework_attachment")
	TypeSubmittedHomework  = TaskType("submitted_homework")
	TypeGeneric            = TaskType("generic")
)

func (t TaskType) isValid() bool {
	switch t {
	case TypeDocument, TypeHomeworkAttachment, TypeSubmittedHomework, TypeGeneric:
		return true
	default:
		return false
	}
}

// TaskStatus is the per-task state machine:
//
//	pending → downloading → {completed | failed | cancelled}
//
// failed and cancelled return to pending via retry; completed is terminal
// until the task is removed. No transition skips pending.
type TaskStatus string

const (
	StatusPending     = TaskStatus("pending")
	StatusDownloading = TaskStatus("downloading")
	StatusCompleted   = TaskStatus("completed")
	StatusFailed      = TaskStatus("failed")
	StatusCancelled   = TaskStatus("cancelled")
)

func (s TaskStatus) isValid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// active reports whether the task still occupies, or may come to occupy, a
// download slot.
func (s TaskStatus) active() bool {
	return s == StatusPending || s == StatusDownloading
}

// DownloadTask is the one durable entity of the transfer subsystem, held in
// memory for the life of the process. FileName may be replaced once the
// server reveals the real name via Content-Disposition; FilePath is set
// once a save location is resolved. TotalBytes is 0 while unknown (chunked
// transfer without a length header).
type DownloadTask struct {
	ID              string            `json:"id"`
	Type            TaskType          `json:"type"`
	URL             string            `json:"url"`
	FileName        string            `json:"file_name"`
	FilePath        string            `json:"file_path,omitempty"`
	Status          TaskStatus        `json:"status"`
	Progress        int               `json:"progress"` // 0-100
	DownloadedBytes int64             `json:"downloaded_bytes"`
	TotalBytes      int64             `json:"total_bytes"`
	Speed           float64           `json:"speed"`          // bytes per second, instantaneous
	TimeRemaining   float64           `json:"time_remaining"` // seconds, 0 when speed is unknown
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Error           string            `json:"error,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// attempt is bumped on every start. An executor carries the attempt it
	// was started for; transitions from a superseded attempt are ignored, so
	// an executor outliving its cancellation cannot touch a retried task.
	attempt int
}

// snapshot returns a deep copy safe to hand to listeners and callers.
func (t *DownloadTask) snapshot() DownloadTask {
	out := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ProgressUpdate is the lightweight notification emitted during an active
// transfer. Status changes broadcast full DownloadTask snapshots instead;
// the two shapes exist so listeners are not flooded with full payloads on
// every chunk.
type ProgressUpdate struct {
	TaskID          string  `json:"task_id"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Progress        int     `json:"progress"`
	Speed           float64 `json:"speed"`
	TimeRemaining   float64 `json:"time_remaining"`
}
