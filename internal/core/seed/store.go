// Package seed persists scored candidates and runs the human review
// workflow over them. Seeds are never deleted; rejection is a status.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"discovery/internal/core/model"
	"discovery/internal/logger"
	rds "discovery/internal/platform/redis"
)

var (
	ErrNotFound          = errors.New("seed not found")
	ErrInvalidTransition = errors.New("invalid review transition")
)

// Action is a review decision
type Action string

const (
	ActionReview  Action = "review"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// target maps an action to the status it moves a seed into
func (a Action) target() (model.ReviewStatus, bool) {
	switch a {
	case ActionReview:
		return model.ReviewReviewed, true
	case ActionApprove:
		return model.ReviewApproved, true
	case ActionReject:
		return model.ReviewRejected, true
	}
	return "", false
}

// CanTransition reports whether review may move a seed from -> to
func CanTransition(from, to model.ReviewStatus) bool {
	switch to {
	case model.ReviewReviewed:
		return from == model.ReviewPending
	case model.ReviewApproved, model.ReviewRejected:
		return from == model.ReviewPending || from == model.ReviewReviewed
	}
	return false
}

type Decision struct {
	Action   Action `json:"action"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
}

func keySeed(id string) string { return "seed:" + id }
func keyRunSeeds(runID string) string { return "run:" + runID + ":seeds" }
func keyRunURL(runID, url string) string {
	return "run:" + runID + ":seedurl:" + url
}
func keyStatus(s model.ReviewStatus) string { return "seeds:status:" + string(s) }

type Store struct {
	redis *rds.Service
	log   *logger.Logger
	now   func() time.Time
}

func NewStore(r *rds.Service) *Store {
	return &Store{redis: r, log: logger.New("SeedStore"), now: time.Now}
}

// Create stores s unless the run already has a seed for the same URL, in
// which case the existing seed is returned with created false.
func (st *Store) Create(ctx context.Context, s *model.Seed) (*model.Seed, bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.now().UTC()
	}
	if s.ReviewStatus == "" {
		s.ReviewStatus = model.ReviewPending
	}

	claimed, err := st.redis.Client().SetNX(ctx, keyRunURL(s.RunID, s.URL), s.ID, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim seed url: %w", err)
	}
	if !claimed {
		id, err := st.redis.Client().Get(ctx, keyRunURL(s.RunID, s.URL)).Result()
		if err != nil {
			return nil, false, fmt.Errorf("lookup seed url: %w", err)
		}
		existing, err := st.Get(ctx, id)
		return existing, false, err
	}

	if err := st.write(ctx, st.redis.Client().TxPipelined, s, ""); err != nil {
		return nil, false, err
	}
	st.log.Debug().Str("seed", s.ID).Str("url", s.URL).Str("status", string(s.ReviewStatus)).Msg("seed created")
	return s, true, nil
}

type txPipelined func(ctx context.Context, fn func(redisv8.Pipeliner) error) ([]redisv8.Cmder, error)

// write persists s and moves it between status indexes in one transaction
func (st *Store) write(ctx context.Context, pipelined txPipelined, s *model.Seed, previous model.ReviewStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode seed: %w", err)
	}
	created := float64(s.CreatedAt.Unix())
	_, err = pipelined(ctx, func(p redisv8.Pipeliner) error {
		p.Set(ctx, keySeed(s.ID), b, 0)
		p.ZAdd(ctx, keyRunSeeds(s.RunID), &redisv8.Z{Score: float64(s.OverallScore), Member: s.ID})
		if previous != "" && previous != s.ReviewStatus {
			p.ZRem(ctx, keyStatus(previous), s.ID)
		}
		p.ZAdd(ctx, keyStatus(s.ReviewStatus), &redisv8.Z{Score: created, Member: s.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store seed %s: %w", s.ID, err)
	}
	return nil
}

func (st *Store) Get(ctx context.Context, id string) (*model.Seed, error) {
	var s model.Seed
	if err := st.redis.CacheGet(ctx, keySeed(id), &s); err != nil {
		if rds.IsMiss(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load seed %s: %w", id, err)
	}
	return &s, nil
}

// ListByRun returns a run's seeds, highest overall score first
func (st *Store) ListByRun(ctx context.Context, runID string, offset, limit int) ([]*model.Seed, error) {
	ids, err := st.redis.Client().ZRevRange(ctx, keyRunSeeds(runID), int64(offset), stop(offset, limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("list run seeds: %w", err)
	}
	return st.load(ctx, ids)
}

// ListByStatus returns seeds in a review status, oldest first
func (st *Store) ListByStatus(ctx context.Context, status model.ReviewStatus, offset, limit int) ([]*model.Seed, error) {
	ids, err := st.redis.Client().ZRange(ctx, keyStatus(status), int64(offset), stop(offset, limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("list seeds by status: %w", err)
	}
	return st.load(ctx, ids)
}

// CountByRun is the number of seeds a run produced
func (st *Store) CountByRun(ctx context.Context, runID string) (int64, error) {
	return st.redis.Client().ZCard(ctx, keyRunSeeds(runID)).Result()
}

func stop(offset, limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(offset + limit - 1)
}

func (st *Store) load(ctx context.Context, ids []string) ([]*model.Seed, error) {
	out := make([]*model.Seed, 0, len(ids))
	for _, id := range ids {
		s, err := st.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Review applies a decision. Concurrent reviews of one seed are serialized
// with WATCH; the loser sees the winner's status.
func (st *Store) Review(ctx context.Context, id string, d Decision) (*model.Seed, error) {
	to, ok := d.Action.target()
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, d.Action)
	}

	var updated *model.Seed
	txf := func(tx *redisv8.Tx) error {
		b, err := tx.Get(ctx, keySeed(id)).Bytes()
		if err != nil {
			if rds.IsMiss(err) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		var s *model.Seed
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode seed %s: %w", id, err)
		}
		from := s.ReviewStatus
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		now := st.now().UTC()
		s.ReviewStatus = to
		s.Reviewer = d.Reviewer
		s.ReviewNotes = d.Notes
		s.ReviewedAt = &now
		if err := st.write(ctx, tx.TxPipelined, s, from); err != nil {
			return err
		}
		updated = s
		return nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := st.redis.Client().Watch(ctx, txf, keySeed(id))
		if errors.Is(err, redisv8.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st.log.LogInfof("seed %s %s by %s", id, to, d.Reviewer)
		return updated, nil
	}
	return nil, fmt.Errorf("review seed %s: concurrent update", id)
}
