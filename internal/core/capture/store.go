// Package capture stores fetched bodies by content hash. Identical bodies
// fetched from different URLs share one record that remembers every URL.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/logger"
	rds "discovery/internal/platform/redis"
	"discovery/internal/utils/markdown"
)

const (
	keyByTime = "captures:by_time"

	// SampleBytes bounds the text handed to the scorer
	SampleBytes = 16 << 10
)

var ErrNotFound = errors.New("capture not found")

func keyCapture(hash string) string { return "capture:" + hash }
func keyURLs(hash string) string    { return "capture:" + hash + ":urls" }

// BlobStore keeps bodies above the inline limit
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

type Store struct {
	redis       *rds.Service
	blobs       BlobStore
	inlineLimit int64
	log         *logger.Logger
	now         func() time.Time
}

// NewStore builds a capture store. Bodies above inlineLimit go to blobs;
// with a nil BlobStore everything is inlined.
func NewStore(r *rds.Service, blobs BlobStore, inlineLimit int64) *Store {
	return &Store{redis: r, blobs: blobs, inlineLimit: inlineLimit, log: logger.New("CaptureStore"), now: time.Now}
}

// Hash is the hex sha256 of body
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Save records a fetched response. created is false when a capture with
// the same body already existed; the URL is added to it either way.
func (s *Store) Save(ctx context.Context, runID, requestedURL string, resp *fetch.Response) (*model.Capture, bool, error) {
	hash := Hash(resp.Body)
	key := keyCapture(hash)

	exists, err := s.redis.Client().Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("capture exists check: %w", err)
	}
	if exists == 1 {
		if err := s.addURLs(ctx, hash, requestedURL, resp.FinalURL); err != nil {
			return nil, false, err
		}
		c, err := s.Get(ctx, hash)
		return c, false, err
	}

	c := &model.Capture{
		ContentHash:   hash,
		RequestedURL:  requestedURL,
		FinalURL:      resp.FinalURL,
		StatusCode:    resp.StatusCode,
		Headers:       resp.Headers,
		ContentType:   resp.ContentType(),
		BodySize:      len(resp.Body),
		Truncated:     resp.Truncated,
		FetchMode:     resp.Mode,
		FetchDuration: resp.Duration,
		RunID:         runID,
		CreatedAt:     s.now().UTC(),
	}
	if s.blobs != nil && int64(len(resp.Body)) > s.inlineLimit {
		ref, err := s.blobs.Put(ctx, blobKey(hash), resp.Body, c.ContentType)
		if err != nil {
			return nil, false, fmt.Errorf("store capture body: %w", err)
		}
		c.BodyRef = ref
	} else {
		c.Body = resp.Body
	}

	created, err := s.redis.CacheSetNX(ctx, key, c, 0)
	if err != nil {
		return nil, false, fmt.Errorf("store capture: %w", err)
	}
	if created {
		score := float64(c.CreatedAt.Unix())
		if err := s.redis.Client().ZAdd(ctx, keyByTime, &redisv8.Z{Score: score, Member: hash}).Err(); err != nil {
			s.log.LogWarnf("index capture %s: %v", hash, err)
		}
	}
	if err := s.addURLs(ctx, hash, requestedURL, resp.FinalURL); err != nil {
		return nil, false, err
	}
	if !created {
		// lost the race to another worker; its record wins
		existing, err := s.Get(ctx, hash)
		return existing, false, err
	}
	return c, true, nil
}

func blobKey(hash string) string { return "captures/" + hash[:2] + "/" + hash }

func (s *Store) addURLs(ctx context.Context, hash string, urls ...string) error {
	members := make([]interface{}, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			members = append(members, u)
		}
	}
	if len(members) == 0 {
		return nil
	}
	if err := s.redis.Client().SAdd(ctx, keyURLs(hash), members...).Err(); err != nil {
		return fmt.Errorf("record capture url: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash string) (*model.Capture, error) {
	var c model.Capture
	if err := s.redis.CacheGet(ctx, keyCapture(hash), &c); err != nil {
		if rds.IsMiss(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// URLs lists every URL that produced the capture
func (s *Store) URLs(ctx context.Context, hash string) ([]string, error) {
	return s.redis.Members(ctx, keyURLs(hash))
}

// Body returns the capture body, loading it from blob storage if needed
func (s *Store) Body(ctx context.Context, c *model.Capture) ([]byte, error) {
	if c.BodyRef == "" {
		return c.Body, nil
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("capture %s: body stored externally but no blob store configured", c.ContentHash)
	}
	return s.blobs.Get(ctx, c.BodyRef)
}

// Markdown renders the main content of an HTML capture as markdown.
// Other content types come back as their text.
func (s *Store) Markdown(ctx context.Context, hash string) (string, error) {
	c, err := s.Get(ctx, hash)
	if err != nil {
		return "", err
	}
	body, err := s.Body(ctx, c)
	if err != nil {
		return "", err
	}
	ct := strings.ToLower(c.ContentType)
	if ct != "" && !strings.Contains(ct, "html") {
		return strings.ToValidUTF8(string(body), ""), nil
	}
	return markdown.ConvertHTMLToMarkdown(string(body)), nil
}

// SetMetadata records the classification derived metadata on the capture
func (s *Store) SetMetadata(ctx context.Context, hash string, meta model.CaptureMetadata) error {
	c, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	c.Metadata = meta
	return s.redis.CacheSet(ctx, keyCapture(hash), c, 0)
}

// Sweep deletes captures created before cutoff together with their blobs
// and URL sets. Individual failures are logged and skipped.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	max := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	hashes, err := s.redis.Client().ZRangeByScore(ctx, keyByTime, &redisv8.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired captures: %w", err)
	}
	deleted := 0
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		c, err := s.Get(ctx, hash)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.log.LogWarnf("sweep: load capture %s: %v", hash, err)
			continue
		}
		if c != nil && c.BodyRef != "" && s.blobs != nil {
			if err := s.blobs.Delete(ctx, c.BodyRef); err != nil {
				s.log.LogWarnf("sweep: delete blob %s: %v", c.BodyRef, err)
				continue
			}
		}
		pipe := s.redis.Client().TxPipeline()
		pipe.Del(ctx, keyCapture(hash), keyURLs(hash))
		pipe.ZRem(ctx, keyByTime, hash)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.LogWarnf("sweep: delete capture %s: %v", hash, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.LogInfof("swept %d captures older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// ContentSample is the text the scorer inspects
func ContentSample(body []byte, contentType string) string {
	ct := strings.ToLower(contentType)
	if ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml") {
		return markdown.Sample(string(body), SampleBytes)
	}
	if len(body) > SampleBytes {
		body = body[:SampleBytes]
	}
	return strings.ToValidUTF8(string(body), "")
}
