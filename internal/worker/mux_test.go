package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestMuxRoutesAndPassesErrors(t *testing.T) {
	m := NewMux()
	var got string
	m.HandleFunc("ingest:task", func(_ context.Context, task *asynq.Task) error {
		got = string(task.Payload())
		return nil
	})
	m.HandleFunc("ingest:broken", func(context.Context, *asynq.Task) error {
		return errors.New("boom")
	})

	ctx := context.Background()
	assert.NoError(t, m.Mux().ProcessTask(ctx, asynq.NewTask("ingest:task", []byte("jane"))))
	assert.Equal(t, "jane", got)
	assert.EqualError(t, m.Mux().ProcessTask(ctx, asynq.NewTask("ingest:broken", nil)), "boom")
	assert.Error(t, m.Mux().ProcessTask(ctx, asynq.NewTask("unknown", nil)))
}
