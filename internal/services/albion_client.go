package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codyseavey/albion-tracker/internal/metrics"
	"github.com/codyseavey/albion-tracker/internal/models"
)

const (
	albionDefaultBaseURL = "https://west.albion-online-data.com"
	albionDefaultTimeout = 15 * time.Second
	albionDateLayout     = "2006-01-02T15:04:05"

	// maxBackoff caps the exponential delay between attempts
	maxBackoff = 5 * time.Minute
)

var (
	// ErrNoMarketData means the API answered but has no prices for the request.
	// It is a valid answer and is never retried.
	ErrNoMarketData = errors.New("no market data")

	// ErrRetriesExhausted means every attempt failed with a transient error
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError is a non-200 response from the price API
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration // parsed from the Retry-After header, 0 if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("albion API error: status %d", e.StatusCode)
}

// RateLimited reports a 429 Too Many Requests
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether retrying the same request can succeed
func (e *StatusError) Transient() bool {
	return e.RateLimited() || e.StatusCode >= 500
}

// RetryPolicy bounds the attempts made for one request
type RetryPolicy struct {
	MaxAttempts int
	// BaseDelay is the first backoff delay; it doubles after every failed attempt
	BaseDelay time.Duration
	// RateLimitCooldown is the fixed wait after a 429. Zero applies the exponential backoff instead.
	RateLimitCooldown time.Duration
}

// DefaultRetryPolicy mirrors the collector's historical behaviour: 3 attempts, 30s after a 429
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		RateLimitCooldown: 30 * time.Second,
	}
}

// backoff returns the delay before the attempt following `attempt` (1-based), capped at maxBackoff
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= maxBackoff/2 {
			return maxBackoff
		}
		delay *= 2
	}
	return min(delay, maxBackoff)
}

// delayAfter picks the wait before retrying a request that failed with err
func (p RetryPolicy) delayAfter(attempt int, err error) time.Duration {
	delay := p.backoff(attempt)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RateLimited() {
		if p.RateLimitCooldown > 0 {
			delay = p.RateLimitCooldown
		}
		if statusErr.RetryAfter > delay {
			delay = statusErr.RetryAfter
		}
	}
	return delay
}

// AlbionClient fetches market prices from the Albion Online Data project
type AlbionClient struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
	retry   RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	requestsTotal int
	lastRequestAt time.Time
}

// albionPriceEntry is one element of the /api/v2/stats/prices response
type albionPriceEntry struct {
	ItemID           string `json:"item_id"`
	City             string `json:"city"`
	Quality          int    `json:"quality"`
	SellPriceMin     int64  `json:"sell_price_min"`
	SellPriceMinDate string `json:"sell_price_min_date"`
	SellPriceMax     int64  `json:"sell_price_max"`
	BuyPriceMin      int64  `json:"buy_price_min"`
	BuyPriceMax      int64  `json:"buy_price_max"`
	BuyPriceMaxDate  string `json:"buy_price_max_date"`
}

// NewAlbionClient creates a client whose every request is paced by limiter
func NewAlbionClient(baseURL string, limiter *RateLimiter, retry RetryPolicy, timeout time.Duration) *AlbionClient {
	if baseURL == "" {
		baseURL = albionDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = albionDefaultTimeout
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if limiter == nil {
		limiter = NewRateLimiter(defaultRateLimit, defaultRatePeriod)
	}

	return &AlbionClient{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		retry:   retry,
		sleep:   sleepContext,
	}
}

// FetchPrices returns one observation per (item, city) pair the API has orders for.
// It returns ErrNoMarketData when the answer is empty and ErrRetriesExhausted
// (wrapping the last failure) when every attempt failed transiently.
// Other 4xx responses are returned immediately as *StatusError.
func (c *AlbionClient) FetchPrices(ctx context.Context, itemIDs []string, cities []models.City) ([]models.ItemPrice, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("no item ids given")
	}
	reqURL := c.pricesURL(itemIDs, cities)

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		entries, err := c.get(ctx, reqURL)
		if err == nil {
			prices := toItemPrices(entries)
			if len(prices) == 0 {
				metrics.FetchAttemptsTotal.WithLabelValues("no_data").Inc()
				return nil, ErrNoMarketData
			}
			metrics.FetchAttemptsTotal.WithLabelValues("ok").Inc()
			return prices, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			metrics.FetchAttemptsTotal.WithLabelValues("permanent").Inc()
			return nil, err
		}
		if statusErr != nil && statusErr.RateLimited() {
			metrics.FetchAttemptsTotal.WithLabelValues("rate_limited").Inc()
		} else {
			metrics.FetchAttemptsTotal.WithLabelValues("transient").Inc()
		}

		lastErr = err
		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.delayAfter(attempt, err)
		log.Printf("Albion client: attempt %d/%d for %s failed: %v (retrying in %v)",
			attempt, c.retry.MaxAttempts, strings.Join(itemIDs, ","), err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.retry.MaxAttempts, lastErr)
}

func (c *AlbionClient) pricesURL(itemIDs []string, cities []models.City) string {
	escaped := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		escaped[i] = url.PathEscape(id)
	}

	params := url.Values{}
	if len(cities) > 0 {
		names := make([]string, len(cities))
		for i, city := range cities {
			names[i] = string(city)
		}
		params.Set("locations", strings.Join(names, ","))
	}

	reqURL := fmt.Sprintf("%s/api/v2/stats/prices/%s.json", c.baseURL, strings.Join(escaped, ","))
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// get performs a single request without retries
func (c *AlbionClient) get(ctx context.Context, reqURL string) ([]albionPriceEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	c.requestsTotal++
	c.lastRequestAt = time.Now()
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var entries []albionPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return entries, nil
}

// RequestsMade returns the number of HTTP requests sent and when the last one went out
func (c *AlbionClient) RequestsMade() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsTotal, c.lastRequestAt
}

// toItemPrices keeps the first entry with live orders per (item, city).
// The API returns one entry per quality level; an entry with no sell and no buy
// orders is treated as missing.
func toItemPrices(entries []albionPriceEntry) []models.ItemPrice {
	type key struct {
		item string
		city models.City
	}

	seen := make(map[key]bool)
	var prices []models.ItemPrice
	for _, e := range entries {
		p := models.ItemPrice{
			UniqueName:       e.ItemID,
			City:             models.NormalizeCity(e.City),
			SellPriceMin:     e.SellPriceMin,
			BuyPriceMax:      e.BuyPriceMax,
			SellPriceMinDate: parseAlbionDate(e.SellPriceMinDate),
		}
		if p.UniqueName == "" || !p.HasMarket() {
			continue
		}

		k := key{p.UniqueName, p.City}
		if seen[k] {
			continue
		}
		seen[k] = true
		prices = append(prices, p)
	}
	return prices
}

// parseAlbionDate parses the API's zone-less UTC timestamps; the zero date means "never"
func parseAlbionDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(albionDateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil
		}
	}
	if t.Year() <= 1 {
		return nil
	}
	t = t.UTC()
	return &t
}

// parseRetryAfter understands the delay-seconds form of Retry-After
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
