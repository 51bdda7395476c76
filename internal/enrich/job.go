package enrich

import (
	"errors"
	"fmt"

	"github.com/NeverlandYao/iknow/internal/jsonldb"
	"github.com/NeverlandYao/iknow/internal/storage"
	"github.com/maruel/ksid"
)

// JobState is the lifecycle state of a recognition job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotImage    = errors.New("file is not a recognizable image")
	ErrNoResult    = errors.New("job has no stored result")

	errNotClaimable = errors.New("job is not claimable")
)

// Job is one unit of recognition work over an uploaded file.
//
// The full recognition output (text plus word boxes) is kept out of the
// row in a Result blob; rows stay small because the table rewrites the
// whole file on every state change.
type Job struct {
	ID          ksid.ID      `json:"id"`
	FileID      ksid.ID      `json:"file_id"`
	UploaderID  ksid.ID      `json:"uploader_id"`
	Language    string       `json:"language,omitempty"`
	State       JobState     `json:"state"`
	Attempts    int          `json:"attempts,omitempty"`
	MaxAttempts int          `json:"max_attempts"`
	Error       string       `json:"error,omitempty"`
	FragmentID  ksid.ID      `json:"fragment_id,omitzero"`
	Result      jsonldb.Blob `json:"result,omitzero"`
	Enqueued    storage.Time `json:"enqueued"`
	Started     storage.Time `json:"started,omitzero"`
	Finished    storage.Time `json:"finished,omitzero"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.Result = j.Result.Clone()
	return &c
}

func (j *Job) GetID() ksid.ID {
	return j.ID
}

// Validate checks row invariants.
func (j *Job) Validate() error {
	if j.ID.IsZero() {
		return errors.New("job ID is required")
	}
	if j.FileID.IsZero() {
		return errors.New("file ID is required")
	}
	if j.UploaderID.IsZero() {
		return errors.New("uploader ID is required")
	}
	switch j.State {
	case JobStatePending, JobStateRunning, JobStateSucceeded, JobStateFailed:
	default:
		return fmt.Errorf("invalid job state %q", j.State)
	}
	if j.Attempts < 0 {
		return errors.New("attempts must be non-negative")
	}
	if j.MaxAttempts < 1 {
		return errors.New("max attempts must be positive")
	}
	return nil
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailed
}
