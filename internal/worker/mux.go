package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"ratingsync/internal/logger"
)

type Mux struct {
	mux *asynq.ServeMux
	log *logger.Logger
}

// NewMux returns a serve mux that logs the outcome of every task.
func NewMux() *Mux {
	m := &Mux{mux: asynq.NewServeMux(), log: logger.New("Worker")}
	m.mux.Use(m.logTasks)
	return m
}

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

func (m *Mux) logTasks(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		retry, _ := asynq.GetRetryCount(ctx)
		err := next.ProcessTask(ctx, task)
		if err != nil {
			m.log.Warn().Err(err).Str("task_id", id).Str("type", task.Type()).Int("retry", retry).
				Dur("elapsed", time.Since(start)).Msg("task failed")
			return err
		}
		m.log.Info().Str("task_id", id).Str("type", task.Type()).Dur("elapsed", time.Since(start)).Msg("task done")
		return nil
	})
}

// NewServer builds the asynq server processing the default queue.
func NewServer(opt asynq.RedisConnOpt, concurrency int, shutdownTimeout time.Duration) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{"default": 1},
		ShutdownTimeout: shutdownTimeout,
	})
}
