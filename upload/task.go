package upload

import (
	"github.com/galleryio/go-photoaccess/storage"
	"github.com/galleryio/go-photoaccess/uploaderr"
	"github.com/google/uuid"
)

// Status ...
type Status int

const (
	// StatusPending ...
	StatusPending Status = iota
	// StatusInFlight ...
	StatusInFlight
	// StatusConfirmed means the storage write succeeded.
	StatusConfirmed
	// StatusFailed ...
	StatusFailed
	// StatusCancelled means the run was aborted before the task finished.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in flight"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task tracks one file through a run. Tasks are owned by the orchestrator; a retry
// creates fresh tasks that share the same File.
type Task struct {
	ID        string
	File      storage.File
	PhotoID   string
	Status    Status
	BytesSent int64
	LastError error
	Retryable bool
}

func newTask(file storage.File) *Task {
	return &Task{ID: uuid.NewString(), File: file, Status: StatusPending}
}

func (t *Task) fail(err error) {
	t.Status = StatusFailed
	t.LastError = err
	t.Retryable = uploaderr.IsRetryable(err)
}

func (t *Task) cancel(err error) {
	t.Status = StatusCancelled
	t.LastError = uploaderr.Cancelled(err)
	t.Retryable = false
}

func (t *Task) terminated() bool {
	return t.Status == StatusConfirmed || t.Status == StatusFailed || t.Status == StatusCancelled
}

// FileResult is the outcome of one file.
type FileResult struct {
	Filename  string
	PhotoID   string
	Success   bool
	Error     string
	Retryable bool

	file storage.File
}

// Report summarizes a run. Cancelled files are counted in TotalFiles and
// CancelledCount but have no entry in Results.
type Report struct {
	RunID          string
	Results        []FileResult
	TotalFiles     int
	SuccessCount   int
	FailedCount    int
	CancelledCount int
}

// RetryCandidates returns the files of failed, retryable results.
func (r Report) RetryCandidates() []storage.File {
	var files []storage.File
	for _, result := range r.Results {
		if !result.Success && result.Retryable && result.file != nil {
			files = append(files, result.file)
		}
	}
	return files
}

func newReport(runID string, tasks []*Task) Report {
	report := Report{RunID: runID, TotalFiles: len(tasks)}
	for _, task := range tasks {
		switch task.Status {
		case StatusCancelled:
			report.CancelledCount++
			continue
		case StatusConfirmed:
			report.SuccessCount++
		default:
			report.FailedCount++
		}

		result := FileResult{
			Filename:  task.File.Name(),
			PhotoID:   task.PhotoID,
			Success:   task.Status == StatusConfirmed,
			Retryable: task.Status != StatusConfirmed && task.Retryable,
			file:      task.File,
		}
		if task.LastError != nil && !result.Success {
			result.Error = task.LastError.Error()
		}
		report.Results = append(report.Results, result)
	}
	return report
}
