package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"discovery/internal/logger"
	rds "discovery/internal/platform/redis"
)

const (
	robotsTTL      = 24 * time.Hour
	robotsMaxBytes = 512 << 10
)

type cachedRobots struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Robots answers robots.txt questions per host. Parsed files are kept in
// memory; raw files are shared through redis when a cache is configured.
type Robots struct {
	client *http.Client
	agent  string
	cache  *rds.Service
	log    *logger.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.Group
}

// NewRobots builds a robots checker. cache may be nil.
func NewRobots(client *http.Client, agent string, cache *rds.Service) *Robots {
	return &Robots{
		client: client,
		agent:  agent,
		cache:  cache,
		log:    logger.New("Robots"),
		hosts:  map[string]*robotstxt.Group{},
	}
}

// Allowed reports whether rawURL may be fetched. Unreachable robots files
// allow everything.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	r.mu.Lock()
	group, ok := r.hosts[origin]
	r.mu.Unlock()
	if !ok {
		group = r.load(ctx, origin)
		r.mu.Lock()
		r.hosts[origin] = group
		r.mu.Unlock()
	}
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (r *Robots) load(ctx context.Context, origin string) *robotstxt.Group {
	key := "robots:" + origin
	var cached cachedRobots
	if r.cache != nil {
		if err := r.cache.CacheGet(ctx, key, &cached); err == nil {
			return r.parse(origin, cached)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.agent)
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug().Str("origin", origin).Err(err).Msg("robots.txt unreachable")
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))

	cached = cachedRobots{Status: resp.StatusCode, Body: body}
	if r.cache != nil {
		_ = r.cache.CacheSet(ctx, key, cached, int(robotsTTL.Seconds()))
	}
	return r.parse(origin, cached)
}

func (r *Robots) parse(origin string, c cachedRobots) *robotstxt.Group {
	data, err := robotstxt.FromStatusAndBytes(c.Status, c.Body)
	if err != nil {
		r.log.LogWarnf("unparseable robots.txt for %s: %v", origin, err)
		return nil
	}
	return data.FindGroup(r.agent)
}
