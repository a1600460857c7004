package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"ratingsync/internal/core/collect"
	"ratingsync/internal/core/job"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
	"ratingsync/internal/platform/tasks"
)

type TaskPayload struct {
	JobID           string `json:"job_id"`
	Username        string `json:"username"`
	Kind            string `json:"kind"`
	Persist         bool   `json:"persist"`
	EmitZeroBuckets *bool  `json:"emit_zero_buckets,omitempty"`
}

// Enqueuer is satisfied by tasks.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int, timeout time.Duration) error
}

type TaskOptions struct {
	Progress   progress.Options
	MaxRetries int
}

// Tasks runs ingestion jobs on the asynq worker and mirrors their progress
// into the job status store.
type Tasks struct {
	svc   *Service
	jobs  *job.JobService
	queue Enqueuer
	opts  TaskOptions
	log   *logger.Logger
}

func NewTasks(svc *Service, jobs *job.JobService, queue Enqueuer, opts TaskOptions) *Tasks {
	return &Tasks{svc: svc, jobs: jobs, queue: queue, opts: opts, log: logger.New("IngestTasks")}
}

// Enqueue records a pending job and submits it. It returns the job id.
func (t *Tasks) Enqueue(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	jobID := uuid.NewString()
	payload, err := json.Marshal(TaskPayload{
		JobID:           jobID,
		Username:        req.Username,
		Kind:            string(req.Kind),
		Persist:         req.Persist,
		EmitZeroBuckets: req.EmitZeroBuckets,
	})
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}
	if err := t.jobs.InitPending(ctx, jobID, job.Type(req.Kind), req.Username); err != nil {
		return "", fmt.Errorf("init job: %w", err)
	}

	// leave the worker a little room past the in-job ceiling
	timeout := time.Duration(0)
	if t.opts.Progress.Ceiling > 0 {
		timeout = t.opts.Progress.Ceiling + 30*time.Second
	}
	task := asynq.NewTask(tasks.TaskTypeIngest, payload)
	if err := t.queue.Enqueue(task, tasks.QueueDefault, t.opts.MaxRetries, timeout); err != nil {
		_ = t.jobs.Fail(ctx, jobID, string(scrapeerr.CodeInternal), "could not enqueue job", true)
		return "", fmt.Errorf("enqueue: %w", err)
	}
	t.log.LogInfof("enqueued %s job %s for %s", req.Kind, jobID, req.Username)
	return jobID, nil
}

// HandleTask is the asynq handler for tasks.TaskTypeIngest.
func (t *Tasks) HandleTask(ctx context.Context, task *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	kind, err := collect.ParseKind(p.Kind)
	if err != nil {
		_ = t.jobs.Fail(ctx, p.JobID, string(scrapeerr.CodeInternal), err.Error(), true)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = t.opts.MaxRetries
	}
	log := t.log.With("job_id", p.JobID)
	log.LogInfof("processing %s job for %s (attempt %d)", kind, p.Username, retry+1)
	if err := t.jobs.SetProcessing(ctx, p.JobID, retry+1); err != nil {
		return err
	}

	ch := progress.New(ctx, t.opts.Progress)
	sub, err := ch.Subscribe()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.forward(context.WithoutCancel(ctx), p.JobID, sub)
	}()

	res, runErr := t.svc.Run(ctx, Request{
		Username:        p.Username,
		Kind:            kind,
		Persist:         p.Persist,
		EmitZeroBuckets: p.EmitZeroBuckets,
	}, ch)
	wg.Wait()

	bg := context.WithoutCancel(ctx)
	if runErr != nil {
		// a worker shutdown cancels ctx; that run should be retried
		retryable := scrapeerr.Retryable(runErr) || ctx.Err() != nil
		final := !retryable || retry >= maxRetry
		if err := t.jobs.Fail(bg, p.JobID, string(scrapeerr.CodeOf(runErr)), scrapeerr.UserMessage(runErr), final); err != nil {
			log.LogWarnf("record failure: %v", err)
		}
		if !retryable {
			return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
		}
		return runErr
	}
	return t.jobs.Complete(bg, p.JobID, res)
}

// forward publishes every progress event until the stream ends.
func (t *Tasks) forward(ctx context.Context, jobID string, sub *progress.Subscription) {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if ev.Kind == progress.KindComplete {
			// the result is stored with the job record
			ev.Data = nil
		}
		_ = t.jobs.PublishEvent(ctx, jobID, ev)
	}
}
