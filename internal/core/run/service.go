package run

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"discovery/internal/config"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/core/query"
	"discovery/internal/logger"
	tasks "discovery/internal/platform/tasks"
)

// CreateRequest is the body of POST /v1/runs
type CreateRequest struct {
	Brief               model.TargetBrief `json:"brief"`
	MaxQueries          int               `json:"max_queries,omitempty"`
	IncludeSiteSearches *bool             `json:"include_site_searches,omitempty"`
	IncludeFeedQueries  *bool             `json:"include_feed_queries,omitempty"`
	Connectors          []model.QueryType `json:"connectors,omitempty"`
	WebhookURL          string            `json:"webhook_url,omitempty"`
}

// Options resolves the query options, site and feed queries default on
func (r CreateRequest) Options() query.Options {
	return query.Options{
		MaxQueries:          r.MaxQueries,
		IncludeSiteSearches: r.IncludeSiteSearches == nil || *r.IncludeSiteSearches,
		IncludeFeedQueries:  r.IncludeFeedQueries == nil || *r.IncludeFeedQueries,
	}
}

func (r CreateRequest) validate() error {
	if r.MaxQueries < 0 {
		return fmt.Errorf("%w: max_queries must not be negative", model.ErrInvalidBrief)
	}
	for _, c := range r.Connectors {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown connector %q", model.ErrInvalidBrief, c)
		}
	}
	return r.Brief.Validate()
}

type TaskPayload struct {
	RunID string `json:"run_id"`
}

// Service accepts runs, hands them to the task queue and executes them
// when the worker delivers them
type Service struct {
	orch    *Orchestrator
	runs    *Store
	tasks   *tasks.Client
	cfg     config.Config
	webhook *http.Client
	log     *logger.Logger
}

func NewService(orch *Orchestrator, tasks *tasks.Client, cfg config.Config) *Service {
	client := fetch.NewClient(cfg.Pipeline.AllowPrivateNetworks)
	client.Timeout = 10 * time.Second
	return &Service{orch: orch, runs: orch.Runs, tasks: tasks, cfg: cfg, webhook: client, log: logger.New("RunService")}
}

func (s *Service) Runs() *Store                { return s.runs }
func (s *Service) Generator() *query.Generator { return s.orch.Generator }
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// Create records a pending run without scheduling it
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.DiscoveryRun, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	snap := s.orch.Snapshot(req.Options(), req.Connectors)
	snap.WebhookURL = req.WebhookURL
	return s.runs.Create(ctx, req.Brief, snap)
}

// Submit creates a run and enqueues it. The task id is derived from the run
// id so a retried submission cannot schedule the run twice.
func (s *Service) Submit(ctx context.Context, req CreateRequest) (*model.DiscoveryRun, error) {
	r, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(TaskPayload{RunID: r.ID})
	task := asynq.NewTask(tasks.TaskTypeDiscoveryRun, payload)
	if err := s.tasks.Enqueue(task, tasks.QueueDefault, s.cfg.TaskMaxRetries, "run:"+r.ID); err != nil {
		if _, ferr := s.runs.Finalize(context.WithoutCancel(ctx), r.ID, model.RunCancelled, "enqueue failed: "+err.Error()); ferr != nil {
			s.log.LogWarnf("could not close unscheduled run %s: %v", r.ID, ferr)
		}
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	s.log.LogInfof("enqueued discovery run %s (%d max queries)", r.ID, r.Config.MaxQueries)
	return r, nil
}

// HandleRunTask executes a delivered run. Malformed payloads and unknown
// runs are not retried. On the last attempt a run that could not finish is
// marked failed so it still ends terminal.
func (s *Service) HandleRunTask(ctx context.Context, task *asynq.Task) error {
	var p TaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.RunID == "" {
		return fmt.Errorf("decode run payload: %v: %w", err, asynq.SkipRetry)
	}
	r, err := s.orch.Execute(ctx, p.RunID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, model.ErrInvalidBrief) {
		return fmt.Errorf("run %s: %v: %w", p.RunID, err, asynq.SkipRetry)
	}
	if err != nil {
		if lastAttempt(ctx) {
			if _, ferr := s.runs.Finalize(context.WithoutCancel(ctx), p.RunID, model.RunFailed, err.Error()); ferr != nil {
				s.log.LogErrorf("mark run %s failed: %v", p.RunID, ferr)
			}
		}
		return err
	}
	if r.Config.WebhookURL != "" {
		s.notify(ctx, r)
	}
	return nil
}

func lastAttempt(ctx context.Context) bool {
	n, ok1 := asynq.GetRetryCount(ctx)
	max, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && n >= max
}

// notify posts the finished run to its webhook, signed with the system secret
func (s *Service) notify(ctx context.Context, r *model.DiscoveryRun) {
	body, err := json.Marshal(map[string]interface{}{
		"run_id": r.ID,
		"type":   "discovery_run",
		"status": r.Status,
		"data":   r,
	})
	if err != nil {
		s.log.LogErrorf("marshal webhook payload for run %s: %v", r.ID, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.log.LogWarnf("invalid webhook url for run %s: %v", r.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.cfg.Pipeline.UserAgent)
	req.Header.Set("X-Discovery-Event", "run."+string(r.Status))
	req.Header.Set("X-Discovery-Run-ID", r.ID)
	if s.cfg.SystemAuthSecret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-System-Timestamp", ts)
		req.Header.Set("X-System-Signature", Sign(s.cfg.SystemAuthSecret, ts, body))
	}

	resp, err := s.webhook.Do(req)
	if err != nil {
		s.log.LogWarnf("webhook for run %s failed: %v", r.ID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.LogWarnf("webhook for run %s returned %d", r.ID, resp.StatusCode)
		return
	}
	s.log.LogDebugf("webhook delivered for run %s", r.ID)
}

// Sign is the hex HMAC-SHA256 of timestamp followed by body
func Sign(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
