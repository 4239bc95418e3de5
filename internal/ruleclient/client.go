package ruleclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/cache"
	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
)

const cacheKeyPrefix = "slicewatch:rules:"

// Client fetches per-slice SLA rule sets from the slice-manager API, the
// external owner of slice configuration. Responses are cached through the
// cache provider so restarts and bursty evaluation do not hammer the API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient constructs a rule client against the configured slice manager.
func NewClient(baseURL string, timeout time.Duration, cacheProvider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// RulesFor returns the active rule set for the slice, serving from cache
// when possible.
func (c *Client) RulesFor(ctx context.Context, sliceID string) ([]models.SlaRule, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("slice-manager base URL not configured")
	}
	if sliceID == "" {
		return nil, fmt.Errorf("empty slice id")
	}

	key := cacheKeyPrefix + sliceID
	if cached, err := c.cache.Get(ctx, key); err == nil {
		var rules []models.SlaRule
		if err := json.Unmarshal(cached, &rules); err == nil {
			return rules, nil
		}
		// Unreadable entry: drop it and refetch.
		_ = c.cache.Del(ctx, key)
	}

	var response struct {
		Rules []models.SlaRule `json:"rules"`
	}
	if err := c.getJSON(ctx, c.rulesURL(sliceID), &response); err != nil {
		return nil, utils.NewAppError("ruleclient.rules", "slice-manager request failed for "+sliceID, err)
	}

	for i := range response.Rules {
		if response.Rules[i].SliceID == "" {
			response.Rules[i].SliceID = sliceID
		}
	}

	if payload, err := json.Marshal(response.Rules); err == nil {
		if err := c.cache.Set(ctx, key, payload, c.cacheTTL); err != nil {
			c.logger.Debug("rule cache write failed", slog.String("slice_id", sliceID), slog.Any("error", err))
		}
	}
	return response.Rules, nil
}

// SliceIDs lists the slice ids the slice manager currently knows, used to
// seed the validator directory when no slices are configured locally.
func (c *Client) SliceIDs(ctx context.Context) ([]string, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("slice-manager base URL not configured")
	}

	var response struct {
		Slices []struct {
			ID string `json:"id"`
		} `json:"slices"`
	}
	if err := c.getJSON(ctx, c.slicesURL(), &response); err != nil {
		return nil, utils.NewAppError("ruleclient.slices", "slice-manager listing failed", err)
	}

	ids := make([]string, 0, len(response.Slices))
	for _, s := range response.Slices {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// Invalidate removes the cached rule set for the slice.
func (c *Client) Invalidate(sliceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.cache.Del(ctx, cacheKeyPrefix+sliceID); err != nil {
		c.logger.Debug("rule cache invalidation failed", slog.String("slice_id", sliceID), slog.Any("error", err))
	}
}

func (c *Client) rulesURL(sliceID string) string {
	cleaned := path.Join("/api/v1/slices", url.PathEscape(sliceID), "sla-rules")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) slicesURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + "/api/v1/slices"
	}
	u.Path = path.Join(u.Path, "/api/v1/slices")
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slice-manager returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
