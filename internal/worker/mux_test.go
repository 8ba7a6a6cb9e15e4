package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestMuxRoutesByType(t *testing.T) {
	m := NewMux()
	var got []string
	m.HandleFunc("discovery:run", func(_ context.Context, task *asynq.Task) error {
		got = append(got, string(task.Payload()))
		return nil
	})
	boom := errors.New("boom")
	m.HandleFunc("capture:sweep", func(context.Context, *asynq.Task) error { return boom })

	ctx := context.Background()
	assert.NoError(t, m.Mux().ProcessTask(ctx, asynq.NewTask("discovery:run", []byte("r1"))))
	assert.ErrorIs(t, m.Mux().ProcessTask(ctx, asynq.NewTask("capture:sweep", nil)), boom)
	assert.Error(t, m.Mux().ProcessTask(ctx, asynq.NewTask("unknown", nil)), "unrouted tasks fail")
	assert.Equal(t, []string{"r1"}, got)
}
