package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/models"
)

// WaitFunc suspends between attempts. It must return early with ctx.Err()
// when ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// FetchFunc fetches the current state of a job
type FetchFunc func(ctx context.Context) (*models.Job, error)

// Policy holds the polling configuration. The interval is constant: no backoff.
type Policy struct {
	MaxAttempts int                    // Maximum number of fetches
	Interval    time.Duration          // Pause between fetches
	Done        func(*models.Job) bool // Terminal-state predicate
	Wait        WaitFunc               // Suspend primitive, SleepContext when nil
	OnAttempt   func(attempt int, job *models.Job)
}

// DefaultPolicy returns the backend's usual completion budget: 60 tries at
// 200ms, about 12s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 60,
		Interval:    200 * time.Millisecond,
		Done:        JobDone,
		Wait:        SleepContext,
	}
}

// JobDone is the terminal-state predicate: status == "done".
func JobDone(job *models.Job) bool {
	return job != nil && job.Status.IsDone()
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollUntilDone invokes fetch until policy.Done reports a terminal state or
// MaxAttempts fetches have been made. A fetch error ends polling and is
// returned unchanged. Exhausting the attempts yields an errs.KindJobIncomplete
// error carrying the last job seen.
func PollUntilDone(ctx context.Context, fetch FetchFunc, policy Policy) (*models.Job, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Done == nil {
		policy.Done = JobDone
	}
	if policy.Wait == nil {
		policy.Wait = SleepContext
	}

	var last *models.Job
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		job, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		last = job

		if policy.OnAttempt != nil {
			policy.OnAttempt(attempt, job)
		}
		if policy.Done(job) {
			return job, nil
		}

		// Don't sleep after last attempt
		if attempt == policy.MaxAttempts {
			break
		}
		if err := policy.Wait(ctx, policy.Interval); err != nil {
			return nil, errs.New(errs.KindJobIncomplete, "poll",
				fmt.Sprintf("polling cancelled after %d attempts", attempt), err)
		}
	}

	jobID, status := "", models.JobStatus("")
	if last != nil {
		jobID, status = last.ID, last.Status
	}
	return last, errs.New(errs.KindJobIncomplete, "poll",
		fmt.Sprintf("job %s did not complete after %d attempts (last status %q)", jobID, policy.MaxAttempts, status), nil)
}
