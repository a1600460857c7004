package tasks

import (
	"time"

	"github.com/hibiken/asynq"

	"ratingsync/internal/platform/redis"
)

const (
	TaskTypeIngest = "ingest:task"

	QueueDefault = "default"
)

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

// Enqueue submits task with a retry budget and a hard processing timeout.
func (t *Client) Enqueue(task *asynq.Task, queue string, maxRetries int, timeout time.Duration) error {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(maxRetries)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	_, err := t.c.Enqueue(task, opts...)
	return err
}

func (t *Client) Close() error { return t.c.Close() }
