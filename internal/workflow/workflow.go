// Package workflow defines the boundary to the third-party asynchronous
// image-workflow service. Jobs are submitted from extracted scene
// prompts, polled for progress, and fetched or cancelled by id. This
// layer consumes the triad; executing workflows is the remote service's
// concern.
package workflow

import (
	"context"
	"errors"
)

// JobStatus is the remote lifecycle state of a submitted workflow job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Common errors returned by Client implementations.
var (
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("workflow job not found")

	// ErrJobNotFinished is returned by Result while the job is still
	// queued or running.
	ErrJobNotFinished = errors.New("workflow job not finished")
)

// Submission describes one workflow job to run remotely.
type Submission struct {
	// Prompt is the scene's visual description driving the workflow.
	Prompt string

	// Params carries workflow-specific tuning passed through untouched.
	Params map[string]string
}

// Status is a point-in-time view of a submitted job.
type Status struct {
	JobID    string
	State    JobStatus
	Progress float64
	Message  string
}

// Result is the output of a finished job: references to produced
// artifacts, retrievable through an objectstore.Store.
type Result struct {
	JobID        string
	ArtifactKeys []string
}

// Client is the submit/poll/fetch triad of the remote workflow service.
type Client interface {
	// Submit enqueues a job and returns its remote id.
	Submit(ctx context.Context, sub Submission) (string, error)

	// Status reports the job's current state, or ErrJobNotFound.
	Status(ctx context.Context, jobID string) (Status, error)

	// Result fetches the finished job's output. It returns
	// ErrJobNotFinished while the job is in flight.
	Result(ctx context.Context, jobID string) (Result, error)

	// Cancel requests remote cancellation. Cancelling a finished job is
	// a no-op.
	Cancel(ctx context.Context, jobID string) error
}
