package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	rds "discovery/internal/platform/redis"
	"discovery/internal/platform/storage"
)

func newStore(t *testing.T, inline int64) (*Store, *storage.Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := rds.NewFromClient(redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()}))
	blobs := storage.NewLocal(t.TempDir())
	return NewStore(r, blobs, inline), blobs
}

func response(body, finalURL string) *fetch.Response {
	return &fetch.Response{
		StatusCode: 200,
		Headers:    map[string][]string{"Content-Type": {"text/html"}},
		Body:       []byte(body),
		FinalURL:   finalURL,
		Mode:       model.FetchStatic,
	}
}

func TestSameBodyFromTwoURLsIsOneCapture(t *testing.T) {
	s, _ := newStore(t, 1<<10)
	ctx := context.Background()

	c1, created, err := s.Save(ctx, "run-1", "https://a.example/", response("<p>same</p>", "https://a.example/"))
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := s.Save(ctx, "run-1", "https://b.example/", response("<p>same</p>", "https://b.example/"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ContentHash, c2.ContentHash)
	assert.Equal(t, "https://a.example/", c2.RequestedURL, "first fetch owns the record")

	urls, err := s.URLs(ctx, c1.ContentHash)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://a.example/", "https://b.example/"}, urls)

	n, err := s.redis.Client().ZCard(ctx, keyByTime).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConcurrentSavesCreateOneCapture(t *testing.T) {
	s, _ := newStore(t, 1<<10)
	ctx := context.Background()
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		hashes  = map[string]bool{}
		want    []string
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		u := fmt.Sprintf("https://mirror-%d.example/", i)
		want = append(want, u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c, ok, err := s.Save(ctx, "run-1", u, response("<p>mirrored</p>", u))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			if c != nil {
				hashes[c.ContentHash] = true
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one save creates the capture")
	require.Len(t, hashes, 1)
	hash := Hash([]byte("<p>mirrored</p>"))
	assert.True(t, hashes[hash])

	urls, err := s.URLs(ctx, hash)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, urls)
	n, err := s.redis.Client().ZCard(ctx, keyByTime).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDifferentBodiesAreDistinct(t *testing.T) {
	s, _ := newStore(t, 1<<10)
	ctx := context.Background()
	c1, _, err := s.Save(ctx, "r", "https://a.example/", response("one", ""))
	require.NoError(t, err)
	c2, _, err := s.Save(ctx, "r", "https://a.example/", response("two", ""))
	require.NoError(t, err)
	assert.NotEqual(t, c1.ContentHash, c2.ContentHash)
	assert.Equal(t, Hash([]byte("one")), c1.ContentHash)
	assert.Len(t, c1.ContentHash, 64)
}

func TestLargeBodiesGoToBlobStorage(t *testing.T) {
	s, _ := newStore(t, 8)
	ctx := context.Background()
	body := "<html><body>larger than eight bytes</body></html>"

	c, created, err := s.Save(ctx, "r", "https://big.example/", response(body, "https://big.example/"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Empty(t, c.Body)
	assert.Equal(t, "local:captures/"+c.ContentHash[:2]+"/"+c.ContentHash, c.BodyRef)
	assert.Equal(t, len(body), c.BodySize)

	stored, err := s.Get(ctx, c.ContentHash)
	require.NoError(t, err)
	data, err := s.Body(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestSetMetadata(t *testing.T) {
	s, _ := newStore(t, 1<<10)
	ctx := context.Background()
	c, _, err := s.Save(ctx, "r", "https://a.example/", response("x", ""))
	require.NoError(t, err)

	require.NoError(t, s.SetMetadata(ctx, c.ContentHash, model.CaptureMetadata{Language: "vi", LinkCount: 3}))
	got, err := s.Get(ctx, c.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "vi", got.Metadata.Language)
	assert.Equal(t, 3, got.Metadata.LinkCount)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepDeletesOldCaptures(t *testing.T) {
	s, blobs := newStore(t, 4)
	ctx := context.Background()

	s.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, _, err := s.Save(ctx, "r", "https://old.example/", response("old body here", ""))
	require.NoError(t, err)
	s.now = time.Now
	fresh, _, err := s.Save(ctx, "r", "https://new.example/", response("new body here", ""))
	require.NoError(t, err)

	n, err := s.Sweep(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, old.ContentHash)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = blobs.Get(ctx, old.BodyRef)
	assert.Error(t, err, "blob removed with the capture")
	urls, err := s.URLs(ctx, old.ContentHash)
	require.NoError(t, err)
	assert.Empty(t, urls)

	_, err = s.Get(ctx, fresh.ContentHash)
	assert.NoError(t, err)
}

func TestContentSample(t *testing.T) {
	sample := ContentSample([]byte("<title>Casino</title><p>hello</p>"), "text/html; charset=utf-8")
	assert.Contains(t, sample, "Casino")
	assert.Contains(t, sample, "hello")

	assert.Equal(t, "plain", ContentSample([]byte("plain"), "text/plain"))
}

func TestMarkdownRendersMainContent(t *testing.T) {
	s, _ := newStore(t, 8)
	ctx := context.Background()
	page := `<html><body><nav>Home</nav><main><h1>Members</h1><p>Freight forwarders in Vietnam.</p></main></body></html>`
	c, _, err := s.Save(ctx, "r", "https://vla.example/", response(page, ""))
	require.NoError(t, err)

	md, err := s.Markdown(ctx, c.ContentHash)
	require.NoError(t, err)
	assert.Contains(t, md, "# Members")
	assert.Contains(t, md, "Freight forwarders in Vietnam.")
	assert.NotContains(t, md, "Home")

	plain := response("line one", "")
	plain.Headers = map[string][]string{"Content-Type": {"text/plain"}}
	p, _, err := s.Save(ctx, "r", "https://vla.example/robots", plain)
	require.NoError(t, err)
	md, err = s.Markdown(ctx, p.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "line one", md)

	_, err = s.Markdown(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandler(t *testing.T) {
	s, _ := newStore(t, 1<<10)
	ctx := context.Background()
	c, _, err := s.Save(ctx, "r", "https://vla.example/", response("<main><h1>Members</h1></main>", "https://vla.example/"))
	require.NoError(t, err)

	app := fiber.New()
	h := NewHandler(s)
	app.Get("/v1/captures/:hash", h.HandleGet)
	app.Get("/v1/captures/:hash/markdown", h.HandleMarkdown)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/captures/"+c.ContentHash, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var got captureResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, c.ContentHash, got.Capture.ContentHash)
	assert.Empty(t, got.Capture.Body)
	assert.Equal(t, []string{"https://vla.example/"}, got.URLs)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/captures/"+c.ContentHash+"/markdown", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	var md markdownResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.Contains(t, md.Markdown, "# Members")

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/captures/missing/markdown", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
