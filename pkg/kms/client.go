// Package kms implements the client for the NASA Keyword Management System,
// resolving controlled-vocabulary terms to canonical UUIDs and definitions.
package kms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

const defaultCacheSize = 2000

// ClientConfig holds KMS client settings.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:   "https://cmr.earthdata.nasa.gov/kms",
		Timeout:   10 * time.Second,
		CacheSize: defaultCacheSize,
	}
}

// Client resolves (term, scheme) pairs against KMS. Lookups are cached
// process-wide in a bounded LRU; misses are cached too, since KMS holds no
// entry for most free-text terms and re-asking is wasted traffic. The
// client is safe for concurrent use; concurrent lookups of the same key may
// issue duplicate upstream calls, which is harmless.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// nil values are cached misses.
	cache  *lru.Cache[string, *models.KMSTerm]
	logger observability.Logger
}

// NewClient creates a KMS client with a bounded lookup cache.
func NewClient(cfg ClientConfig, logger observability.Logger) (*Client, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.BaseURL == "" {
		cfg = DefaultClientConfig()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, *models.KMSTerm](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS cache: %w", err)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		logger:     logger,
	}, nil
}

// LookupTerm resolves a term within a scheme to its canonical KMS entry.
// Returns nil when the term is unknown or any upstream call fails; KMS
// misses never fail the enclosing concept.
func (c *Client) LookupTerm(ctx context.Context, term, scheme string) *models.KMSTerm {
	key := term + "\x00" + scheme
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	resolved := c.lookup(ctx, term, scheme)
	c.cache.Add(key, resolved)
	return resolved
}

// ClearCache drops all cached lookups. Exposed for tests.
func (c *Client) ClearCache() {
	c.cache.Purge()
}

func (c *Client) lookup(ctx context.Context, term, scheme string) *models.KMSTerm {
	uuid := c.searchUUID(ctx, term, scheme)
	if uuid == "" {
		return nil
	}

	return &models.KMSTerm{
		UUID:       uuid,
		Scheme:     scheme,
		Term:       term,
		Definition: c.fetchDefinition(ctx, uuid),
	}
}

// searchUUID runs the pattern search and picks the best match: exact
// case-insensitive prefLabel first, otherwise the first result.
func (c *Client) searchUUID(ctx context.Context, term, scheme string) string {
	u := fmt.Sprintf("%s/concepts/concept_scheme/%s/pattern/%s?format=json",
		c.baseURL, url.PathEscape(scheme), url.PathEscape(term))

	body, err := c.get(ctx, u)
	if err != nil {
		c.logger.Debug("KMS search failed", map[string]interface{}{
			"term":   term,
			"scheme": scheme,
			"error":  err.Error(),
		})
		return ""
	}

	var resp struct {
		Concepts []struct {
			PrefLabel string `json:"prefLabel"`
			UUID      string `json:"uuid"`
		} `json:"concepts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug("Failed to parse KMS search response", map[string]interface{}{
			"term":  term,
			"error": err.Error(),
		})
		return ""
	}

	for _, concept := range resp.Concepts {
		if strings.EqualFold(concept.PrefLabel, term) && concept.UUID != "" {
			return concept.UUID
		}
	}
	if len(resp.Concepts) > 0 {
		return resp.Concepts[0].UUID
	}
	return ""
}

func (c *Client) fetchDefinition(ctx context.Context, uuid string) string {
	u := fmt.Sprintf("%s/concept/%s?format=json", c.baseURL, url.PathEscape(uuid))

	body, err := c.get(ctx, u)
	if err != nil {
		c.logger.Debug("KMS concept fetch failed", map[string]interface{}{
			"uuid":  uuid,
			"error": err.Error(),
		})
		return ""
	}

	var resp struct {
		Definition string `json:"definition"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug("Failed to parse KMS concept response", map[string]interface{}{
			"uuid":  uuid,
			"error": err.Error(),
		})
		return ""
	}
	return resp.Definition
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
