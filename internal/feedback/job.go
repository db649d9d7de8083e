// Package feedback generates per-block and per-interview feedback from
// stored transcripts. Jobs carry only an id and are safe to redeliver.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
)

// JobKind selects the pipeline step a Job runs.
type JobKind string

const (
	JobBlock      JobKind = "block"
	JobInterview  JobKind = "interview"
	JobTranscript JobKind = "transcript"
)

// Job is one queued unit of work.
type Job struct {
	Kind JobKind `json:"kind"`
	ID   string  `json:"id"`
}

func (j Job) String() string { return fmt.Sprintf("%s:%s", j.Kind, j.ID) }

func (j Job) validate() error {
	switch j.Kind {
	case JobBlock, JobInterview, JobTranscript:
	default:
		return fmt.Errorf("unknown feedback job kind %q", j.Kind)
	}
	if j.ID == "" {
		return fmt.Errorf("feedback job %s has no id", j.Kind)
	}
	return nil
}

func encodeJob(j Job) ([]byte, error) {
	if err := j.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode feedback job: %w", err)
	}
	return j, j.validate()
}

// Handler processes one job. A returned error asks the queue to redeliver.
type Handler func(ctx context.Context, job Job) error

// Enqueuer accepts jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue delivers enqueued jobs to a consumer.
type Queue interface {
	Enqueuer
	// Consume starts delivering jobs to h in the background until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}
