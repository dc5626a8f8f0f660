// Package cmr implements the client for the NASA Common Metadata Repository
// and the extraction of embeddable data from UMM metadata.
package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// Search endpoints per concept type.
var conceptEndpoints = map[string]string{
	models.ConceptTypeCollection: "/search/collections.umm_json",
	models.ConceptTypeVariable:   "/search/variables.umm_json",
	models.ConceptTypeCitation:   "/search/citations.umm_json",
}

// CMRError indicates a failed catalog request. Messages failing on a
// CMRError are requeued for redelivery.
type CMRError struct {
	Message string
	Err     error
}

func (e *CMRError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CMRError) Unwrap() error { return e.Err }

// ClientConfig holds CMR client settings.
type ClientConfig struct {
	BaseURL        string
	ConceptTimeout time.Duration
	SearchTimeout  time.Duration
	// SearchRPS bounds the pagination request rate during bootstrap runs.
	SearchRPS float64
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "https://cmr.earthdata.nasa.gov",
		ConceptTimeout: 30 * time.Second,
		SearchTimeout:  60 * time.Second,
		SearchRPS:      5.0,
	}
}

// Client is the CMR HTTP client.
type Client struct {
	baseURL       string
	conceptClient *http.Client
	searchClient  *http.Client
	limiter       *rate.Limiter
	logger        observability.Logger
}

// NewClient creates a CMR client.
func NewClient(cfg ClientConfig, logger observability.Logger) *Client {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.BaseURL == "" {
		cfg = DefaultClientConfig()
	}
	rps := cfg.SearchRPS
	if rps <= 0 {
		rps = 5.0
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		conceptClient: &http.Client{Timeout: cfg.ConceptTimeout},
		searchClient:  &http.Client{Timeout: cfg.SearchTimeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		logger:        logger,
	}
}

// FetchConcept retrieves the UMM metadata of one concept revision.
func (c *Client) FetchConcept(ctx context.Context, conceptID string, revisionID int) (map[string]interface{}, error) {
	u := fmt.Sprintf("%s/search/concepts/%s/%d.umm_json", c.baseURL, conceptID, revisionID)

	body, err := c.get(ctx, c.conceptClient, u)
	if err != nil {
		return nil, &CMRError{Message: fmt.Sprintf("failed to fetch %s from CMR", conceptID), Err: err}
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, &CMRError{Message: fmt.Sprintf("failed to parse metadata for %s", conceptID), Err: err}
	}
	return metadata, nil
}

// FetchAssociations retrieves the variable and citation associations of a
// collection. Best-effort: on any error it logs a warning and returns an
// empty map, since associations are recovered on the next revision.
func (c *Client) FetchAssociations(ctx context.Context, conceptID string) map[string][]string {
	u := fmt.Sprintf("%s/search/collections.umm_json?%s", c.baseURL, url.Values{
		"concept_id":           {conceptID},
		"include_has_granules": {"false"},
	}.Encode())

	body, err := c.get(ctx, c.conceptClient, u)
	if err != nil {
		c.logger.Warn("Failed to fetch associations", map[string]interface{}{
			"concept_id": conceptID,
			"error":      err.Error(),
		})
		return map[string][]string{}
	}

	var resp struct {
		Items []struct {
			Meta struct {
				Associations map[string][]string `json:"associations"`
			} `json:"meta"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("Failed to parse associations response", map[string]interface{}{
			"concept_id": conceptID,
			"error":      err.Error(),
		})
		return map[string][]string{}
	}

	if len(resp.Items) == 0 || resp.Items[0].Meta.Associations == nil {
		return map[string][]string{}
	}
	return resp.Items[0].Meta.Associations
}

// SearchItem is one result of a paginated concept search.
type SearchItem struct {
	Meta struct {
		ConceptID  string `json:"concept-id"`
		RevisionID int    `json:"revision-id"`
	} `json:"meta"`
}

// Search pages through the concepts matching searchParams and invokes fn
// once per page. Pagination stops when a page comes back empty or the
// cumulative item count reaches the reported hit count. An unsupported
// concept type is fatal.
func (c *Client) Search(ctx context.Context, conceptType string, searchParams map[string]string, pageSize int, fn func(items []SearchItem) error) error {
	endpoint, ok := conceptEndpoints[conceptType]
	if !ok {
		return &CMRError{Message: fmt.Sprintf("unsupported concept type: %s", conceptType)}
	}

	params := url.Values{}
	for k, v := range searchParams {
		params.Set(k, v)
	}
	params.Set("page_size", strconv.Itoa(pageSize))

	totalFetched := 0
	for pageNum := 1; ; pageNum++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &CMRError{Message: "search cancelled", Err: err}
		}

		params.Set("page_num", strconv.Itoa(pageNum))
		u := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, params.Encode())

		c.logger.Info("Fetching search page", map[string]interface{}{
			"concept_type": conceptType,
			"page_num":     pageNum,
			"page_size":    pageSize,
		})

		body, err := c.get(ctx, c.searchClient, u)
		if err != nil {
			return &CMRError{Message: "CMR search request failed", Err: err}
		}

		var resp struct {
			Hits  int          `json:"hits"`
			Items []SearchItem `json:"items"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return &CMRError{Message: "failed to parse CMR search response", Err: err}
		}

		if len(resp.Items) == 0 {
			return nil
		}

		totalFetched += len(resp.Items)
		if err := fn(resp.Items); err != nil {
			return err
		}

		if totalFetched >= resp.Hits {
			c.logger.Info("Fetched all search results", map[string]interface{}{
				"total": totalFetched,
			})
			return nil
		}
	}
}

// ExtractConceptInfo converts a search item into a synthetic update message
// for the bootstrap path. Missing identifiers are an extraction error.
func ExtractConceptInfo(conceptType string, item SearchItem) (models.ConceptMessage, error) {
	if item.Meta.ConceptID == "" || item.Meta.RevisionID == 0 {
		return models.ConceptMessage{}, &CMRError{
			Message: fmt.Sprintf("missing concept-id or revision-id in item: %+v", item.Meta),
		}
	}
	return models.ConceptMessage{
		Action:      models.ActionUpdate,
		ConceptType: conceptType,
		ConceptID:   item.Meta.ConceptID,
		RevisionID:  item.Meta.RevisionID,
	}, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
