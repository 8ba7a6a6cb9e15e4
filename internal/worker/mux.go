package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"discovery/internal/logger"
)

type Mux struct {
	mux *asynq.ServeMux
	log *logger.Logger
}

func NewMux() *Mux {
	m := &Mux{mux: asynq.NewServeMux(), log: logger.New("Worker")}
	m.mux.Use(m.logging)
	return m
}

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

// logging records the outcome and duration of every task
func (m *Mux) logging(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		retry, _ := asynq.GetRetryCount(ctx)
		err := next.ProcessTask(ctx, t)
		ev := m.log.Info()
		if err != nil {
			ev = m.log.Warn().Err(err)
		}
		ev.Str("type", t.Type()).Str("task_id", id).Int("retry", retry).
			Dur("took", time.Since(start)).Msg("task processed")
		return err
	})
}
