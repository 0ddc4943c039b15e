package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrJobExpired is wrapped by JobFailedError when the provider expired the job
var ErrJobExpired = errors.New("batch job expired")

// RemoteJobError is a provider failure while submitting, polling or downloading
type RemoteJobError struct {
	Op    string
	JobID string
	Err   error
}

func (e *RemoteJobError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("remote job: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote job %s: %s: %v", e.JobID, e.Op, e.Err)
}

func (e *RemoteJobError) Unwrap() error { return e.Err }

// JobFailedError means the job reached a terminal state other than done
type JobFailedError struct {
	JobID string
	State string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("remote job %s ended in state %s", e.JobID, e.State)
}

func (e *JobFailedError) Unwrap() error { return ErrJobExpired }

// JobTimeoutError means the job was not done within the configured wait
type JobTimeoutError struct {
	JobID  string
	Waited time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("remote job %s not done after %s", e.JobID, e.Waited.Round(time.Millisecond))
}

func (e *JobTimeoutError) Unwrap() error { return context.DeadlineExceeded }
