package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ratingsync/internal/logger"
)

// Backend is the slice of the redis service the job store needs.
type Backend interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttlSeconds int) error
	Publish(ctx context.Context, channel, payload string) error
}

const (
	// UpdatedMessage is published on the job channel after every status write.
	UpdatedMessage = "updated"
	eventPrefix    = "event:"
)

type JobService struct {
	backend Backend
	log     *logger.Logger
}

func NewJobService(backend Backend) *JobService {
	return &JobService{backend: backend, log: logger.New("JobService")}
}

func (s *JobService) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := s.backend.CacheGet(ctx, Key(jobID), &job); err != nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return &job, nil
}

func (s *JobService) store(ctx context.Context, jobID string, update func(*Job)) error {
	var job Job
	_ = s.backend.CacheGet(ctx, Key(jobID), &job)
	job.JobID = jobID
	update(&job)
	job.UpdatedAt = time.Now().UnixMilli()

	if err := s.backend.CacheSet(ctx, Key(jobID), job, ttl(job.Status)); err != nil {
		return err
	}
	_ = s.backend.Publish(ctx, Key(jobID), UpdatedMessage)
	return nil
}

func (s *JobService) InitPending(ctx context.Context, jobID string, jobType Type, username string) error {
	return s.store(ctx, jobID, func(j *Job) {
		j.Type = jobType
		j.Username = username
		j.Status = StatusPending
	})
}

func (s *JobService) SetProcessing(ctx context.Context, jobID string, attempt int) error {
	return s.store(ctx, jobID, func(j *Job) {
		j.Status = StatusProcessing
		j.Attempt = attempt
		j.Error = nil
	})
}

// Complete marks the job completed with result serialized as JSON.
func (s *JobService) Complete(ctx context.Context, jobID string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return s.store(ctx, jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Error = nil
		j.Result = raw
	})
}

// Fail records a failure. final is false while the task still has retries
// left, in which case the job goes back to pending.
func (s *JobService) Fail(ctx context.Context, jobID, code, message string, final bool) error {
	return s.store(ctx, jobID, func(j *Job) {
		j.Error = &ErrorInfo{Code: code, Message: message}
		if final {
			j.Status = StatusFailed
		} else {
			j.Status = StatusPending
		}
	})
}

// PublishEvent forwards one progress event to the job channel for SSE
// listeners.
func (s *JobService) PublishEvent(ctx context.Context, jobID string, event interface{}) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := s.backend.Publish(ctx, Key(jobID), eventPrefix+string(b)); err != nil {
		s.log.LogDebugf("publish event for job %s: %v", jobID, err)
		return err
	}
	return nil
}

// ParseMessage splits a channel payload into an event body, or reports a
// plain status update.
func ParseMessage(payload string) (event []byte, isEvent bool) {
	if len(payload) > len(eventPrefix) && payload[:len(eventPrefix)] == eventPrefix {
		return []byte(payload[len(eventPrefix):]), true
	}
	return nil, false
}

func Key(id string) string { return "job:" + id }

func ttl(s Status) int {
	if s.Terminal() {
		return 3600
	}
	return 600
}
