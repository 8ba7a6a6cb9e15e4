package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"discovery/internal/logger"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
)

// ErrMiss is returned by CacheGet when the key does not exist
var ErrMiss = redisv8.Nil

type Options struct {
	Addr     string
	Password string
}

type Service struct {
	client *redisv8.Client
	log    *logger.Logger
}

func New(opts Options) (*Service, error) {
	c := redisv8.NewClient(&redisv8.Options{Addr: opts.Addr, Password: opts.Password})
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Service{client: c, log: logger.New("Redis")}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(c *redisv8.Client) *Service {
	return &Service{client: c, log: logger.New("Redis")}
}

func (s *Service) Close() error            { return s.client.Close() }
func (s *Service) Client() *redisv8.Client { return s.client }

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.LogErrorf("Redis health check failed: %v", err)
		return fmt.Errorf("redis ping failed: %w", err)
	}

	// write/read round trip
	testKey := "health:test:" + time.Now().Format("20060102150405")
	if err := s.client.Set(ctx, testKey, "ok", 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write test failed: %w", err)
	}
	val, err := s.client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis read test failed: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("redis value mismatch: got %s, want ok", val)
	}
	_ = s.client.Del(ctx, testKey).Err()
	return nil
}

func (s *Service) AsynqRedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.client.Options().Addr, Password: s.client.Options().Password}
}

// IsMiss reports whether err means the key was absent
func IsMiss(err error) bool { return errors.Is(err, redisv8.Nil) }

// CacheGet decodes the JSON value stored at key into dest
func (s *Service) CacheGet(ctx context.Context, key string, dest interface{}) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

// CacheSet stores val as JSON. ttlSeconds <= 0 means no expiry.
func (s *Service) CacheSet(ctx context.Context, key string, val interface{}, ttlSeconds int) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, time.Duration(ttlSeconds)*time.Second).Err()
}

// CacheSetNX stores val as JSON only if key is absent. Returns true when stored.
func (s *Service) CacheSetNX(ctx context.Context, key string, val interface{}, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, b, ttl).Result()
}

// Incr atomically adds delta to a counter field of a hash
func (s *Service) Incr(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

// Counters returns every counter field of a hash
func (s *Service) Counters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("counter %s.%s: %w", key, k, err)
		}
		out[k] = n
	}
	return out, nil
}

// AddMember adds member to a set. Returns true when it was not present.
func (s *Service) AddMember(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	return n == 1, err
}

// Members lists a set
func (s *Service) Members(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}
