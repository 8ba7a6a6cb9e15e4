package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

const searchMaxBody = 2 << 20

type searchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Engine  string `json:"engine"`
	} `json:"results"`
}

// Search queries a SearXNG compatible JSON endpoint. It serves both web
// and site searches; site: operators pass through to the engine.
type Search struct {
	baseURL    string
	client     *http.Client
	maxResults int
	log        *logger.Logger
}

// NewSearch builds the search connector. An empty baseURL leaves it
// unavailable.
func NewSearch(baseURL string, client *http.Client, maxResults int) *Search {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Search{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		maxResults: maxResults,
		log:        logger.New("SearchConnector"),
	}
}

func (s *Search) Available() bool { return s != nil && s.baseURL != "" }

func (s *Search) Execute(ctx context.Context, q model.DiscoveryQuery) ([]Candidate, error) {
	if !s.Available() {
		return nil, failure.New(failure.KindConnectorUnavailable, q.Query, failure.ErrUnavailable)
	}
	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("format", "json")
	if q.Language != "" {
		params.Set("language", q.Language)
	}
	endpoint := s.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, failure.New(failure.KindParse, q.Query, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, failure.Classify(err, endpoint)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, failure.FromStatus(resp.StatusCode, endpoint)
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, searchMaxBody)).Decode(&parsed); err != nil {
		return nil, failure.New(failure.KindParse, endpoint, fmt.Errorf("decode search response: %w", err))
	}

	seen := map[string]struct{}{}
	out := make([]Candidate, 0, min(len(parsed.Results), max(s.maxResults, 0)))
	for _, r := range parsed.Results {
		out = appendUnique(out, seen, Candidate{
			URL:     normalizeURL(r.URL, nil),
			Title:   strings.TrimSpace(r.Title),
			Snippet: strings.TrimSpace(r.Content),
			Source:  q.Type,
			Metadata: map[string]string{
				"engine": r.Engine,
			},
		}, s.maxResults)
	}
	s.log.Debug().Str("query", q.Query).Int("results", len(out)).Msg("search complete")
	return out, nil
}
