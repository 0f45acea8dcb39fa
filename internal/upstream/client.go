// Package upstream talks to the Coupang Partners open API. Every call runs
// through the category rate limiter and carries a CEA signature; list
// responses are cached so repeated reads of the same logical resource do not
// burn quota.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jjeknow/coupang-price-sub000/internal/cache"
	"github.com/jjeknow/coupang-price-sub000/internal/ratelimit"
	"github.com/jjeknow/coupang-price-sub000/internal/sign"
)

const (
	// DefaultBaseURL is the production API gateway.
	DefaultBaseURL = "https://api-gateway.coupang.com"

	apiPrefix = "/v2/providers/affiliate_open_api/apis/openapi/v1"

	// Curated lists refresh upstream once a day.
	listTTL = 24 * time.Hour
	// Click reports lag by hours upstream; an hour of staleness is fine.
	reportTTL = time.Hour
)

// Config holds client settings. An empty BaseURL means production.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the signed, rate-limited, cached upstream caller.
type Client struct {
	http    *http.Client
	baseURL string
	signer  *sign.Signer
	limiter *ratelimit.Limiter

	products *cache.Cache[[]Product]
	reports  *cache.Cache[[]ClickRow]
}

func New(cfg Config, signer *sign.Signer, limiter *ratelimit.Limiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	r := retryablehttp.NewClient()
	r.RetryMax = 2
	r.HTTPClient.Timeout = cfg.Timeout
	r.Logger = nil
	// Retry only transport failures (request never reached the upstream).
	// Retrying on response status would issue extra upstream-visible requests
	// against a single rate-limiter token, undercounting the real quota, and
	// would re-send the deeplink POST.
	r.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return resp == nil && err != nil, nil
	}

	return &Client{
		http:     r.StandardClient(),
		baseURL:  cfg.BaseURL,
		signer:   signer,
		limiter:  limiter,
		products: cache.New[[]Product](),
		reports:  cache.New[[]ClickRow](),
	}
}

// Goldbox fetches the curated daily highlights list.
func (c *Client) Goldbox(ctx context.Context) ([]Product, error) {
	return c.products.GetOrFetch("goldbox", listTTL, func() ([]Product, error) {
		var items []Product
		path := apiPrefix + "/products/goldbox"
		if err := c.call(ctx, ratelimit.CategoryGeneral, http.MethodGet, path, nil, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, ErrEmptyResponse
		}
		return items, nil
	})
}

// BestCategory fetches the best-selling list for one catalog category.
func (c *Client) BestCategory(ctx context.Context, categoryID int64, limit int) ([]Product, error) {
	key := fmt.Sprintf("bestcategory:%d:%d", categoryID, limit)
	return c.products.GetOrFetch(key, listTTL, func() ([]Product, error) {
		var items []Product
		path := fmt.Sprintf("%s/products/bestcategories/%d?limit=%d", apiPrefix, categoryID, limit)
		if err := c.call(ctx, ratelimit.CategoryGeneral, http.MethodGet, path, nil, &items); err != nil {
			return nil, err
		}
		return items, nil
	})
}

// SearchProducts runs a keyword search. Search calls draw from the stricter
// search budget on top of the general one.
func (c *Client) SearchProducts(ctx context.Context, keyword string, limit int) ([]Product, error) {
	key := fmt.Sprintf("search:%s:%d", keyword, limit)
	return c.products.GetOrFetch(key, listTTL, func() ([]Product, error) {
		var data searchData
		// The escaped path is also what gets signed; the signature must match
		// the bytes on the wire.
		path := fmt.Sprintf("%s/products/search?keyword=%s&limit=%d", apiPrefix, url.QueryEscape(keyword), limit)
		if err := c.call(ctx, ratelimit.CategorySearch, http.MethodGet, path, nil, &data); err != nil {
			return nil, err
		}
		return data.ProductData, nil
	})
}

// CreateDeeplink asks the upstream to generate a monetized link for one
// product URL. Never cached here; the deeplink resolver keeps its own
// persistent cache.
func (c *Client) CreateDeeplink(ctx context.Context, productURL string) (Deeplink, error) {
	var links []Deeplink
	path := apiPrefix + "/deeplink"
	body := deeplinkRequest{CoupangURLs: []string{productURL}}
	if err := c.call(ctx, ratelimit.CategoryGeneral, http.MethodPost, path, body, &links); err != nil {
		return Deeplink{}, err
	}
	if len(links) == 0 {
		return Deeplink{}, ErrEmptyResponse
	}
	return links[0], nil
}

// ClicksReport fetches the partner click report for a yyyyMMdd date range.
func (c *Client) ClicksReport(ctx context.Context, startDate, endDate string) ([]ClickRow, error) {
	key := fmt.Sprintf("clicks:%s:%s", startDate, endDate)
	return c.reports.GetOrFetch(key, reportTTL, func() ([]ClickRow, error) {
		var rows []ClickRow
		path := fmt.Sprintf("%s/reports/clicks?startDate=%s&endDate=%s", apiPrefix, startDate, endDate)
		if err := c.call(ctx, ratelimit.CategoryReporting, http.MethodGet, path, nil, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

// call gates the request on the rate limiter, signs it, issues it, and
// decodes the response envelope into out.
func (c *Client) call(ctx context.Context, category, method, path string, body, out any) error {
	d, err := c.limiter.Check(ctx, category)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		return &RateLimitError{Category: d.Category, RetryAfter: d.RetryAfter}
	}

	auth, err := c.signer.Authorization(method, path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyResponse
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.RCode != "" && env.RCode != "0" {
		return &BusinessError{Code: env.RCode, Message: env.RMessage}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
