package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/autoresearch/autoresearch/pkg/httpclient"
	"github.com/autoresearch/autoresearch/pkg/protocol"
)

// SearxNGBackend queries a SearxNG metasearch instance through its JSON
// API. It is the reference Backend implementation; shells register their
// own backends for other engines.
type SearxNGBackend struct {
	name    string
	baseURL string
	client  *httpclient.Client
}

// SearxNGOption configures the backend.
type SearxNGOption func(*SearxNGBackend)

// WithClient substitutes the HTTP client, mainly for tests.
func WithClient(client *httpclient.Client) SearxNGOption {
	return func(b *SearxNGBackend) {
		b.client = client
	}
}

// NewSearxNG creates a backend for the instance at baseURL.
func NewSearxNG(name, baseURL string, opts ...SearxNGOption) *SearxNGBackend {
	b := &SearxNGBackend{
		name:    name,
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = httpclient.New()
	}
	return b
}

// Name implements Backend.
func (b *SearxNGBackend) Name() string { return b.name }

type searxngResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Engine  string  `json:"engine"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Backend. Failures are tagged for the retry policy:
// authorization problems are ConfigError, everything else Transient.
func (b *SearxNGBackend) Search(ctx context.Context, canonicalQuery string, topK int) ([]RawResult, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", b.baseURL, url.QueryEscape(canonicalQuery))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindConfig, "search.searxng", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindTransient, "search.searxng", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, protocol.Newf(protocol.KindConfig, "search.searxng",
			"backend %s rejected request: HTTP %d", b.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, protocol.Newf(protocol.KindTransient, "search.searxng",
			"backend %s returned HTTP %d", b.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindTransient, "search.searxng", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, protocol.WrapErr(protocol.KindTransient, "search.searxng", err)
	}

	results := make([]RawResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, RawResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Meta: map[string]string{
				"engine": r.Engine,
			},
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}
