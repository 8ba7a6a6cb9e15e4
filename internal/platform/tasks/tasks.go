package tasks

import (
	"errors"
	"time"

	"discovery/internal/platform/redis"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeDiscoveryRun = "discovery:run"
	TaskTypeCaptureSweep = "capture:sweep"

	QueueDefault     = "default"
	QueueMaintenance = "maintenance"
)

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

func (t *Client) Close() error { return t.c.Close() }

// Enqueue submits task. A non-empty taskID makes the submission idempotent:
// a second enqueue with the same id is a no-op.
func (t *Client) Enqueue(task *asynq.Task, queue string, maxRetries int, taskID string) error {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(maxRetries), asynq.Timeout(2 * time.Hour)}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}
	_, err := t.c.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// NewScheduler registers the periodic capture sweep
func NewScheduler(r *redis.Service, sweepSpec string) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(r.AsynqRedisOpt(), &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := s.Register(sweepSpec, asynq.NewTask(TaskTypeCaptureSweep, nil), asynq.Queue(QueueMaintenance), asynq.MaxRetry(1)); err != nil {
		return nil, err
	}
	return s, nil
}
