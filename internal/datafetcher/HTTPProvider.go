/*
This file fetches pools, sentiment, predictions and pool history from an HTTP data provider.

Every response is validated before it is handed to the scoring, signal or simulation code;
a single malformed pool is dropped and logged, a malformed envelope fails the call.
Retries, timeouts and caching are layered on top by Resilient.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
)

var httpLogger = logger.GetForComponent("http_provider")

// maxBodyBytes bounds a single provider response.
const maxBodyBytes = 16 << 20

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPProvider implements Provider against a JSON HTTP API.
type HTTPProvider struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for baseURL. Per-call timeouts are applied by
// Resilient through the context; timeout here is a hard ceiling on the client.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) (*HTTPProvider, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid provider URL %q", ErrInvalidRequest, baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: u,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type poolsResponse struct {
	Pools []types.Pool `json:"pools"`
}

type sentimentResponse struct {
	Scores map[string]float64 `json:"scores"`
}

type predictionsResponse struct {
	Predictions []types.PoolPrediction `json:"predictions"`
}

// FetchPools returns validated pools matching filters.
func (h *HTTPProvider) FetchPools(ctx context.Context, filters types.PoolFilters) ([]types.Pool, error) {
	q := url.Values{}
	if filters.MinTvlUSD > 0 {
		q.Set("min_tvl", strconv.FormatFloat(filters.MinTvlUSD, 'f', -1, 64))
	}
	if filters.MinAPR > 0 {
		q.Set("min_apr", strconv.FormatFloat(filters.MinAPR, 'f', -1, 64))
	}
	if len(filters.Symbols) > 0 {
		q.Set("symbols", strings.Join(canonicalSymbols(filters.Symbols), ","))
	}
	if filters.Limit > 0 {
		q.Set("limit", strconv.Itoa(filters.Limit))
	}

	var resp poolsResponse
	if err := h.getJSON(ctx, "/pools", q, &resp); err != nil {
		return nil, err
	}

	pools := make([]types.Pool, 0, len(resp.Pools))
	for i, p := range resp.Pools {
		if err := validateFinalPool(p); err != nil {
			httpLogger.Warn().Err(err).Int("index", i).Msg("Dropping invalid pool from provider response")
			continue
		}
		pools = append(pools, p)
	}

	// The provider may ignore filters it does not support.
	pools = applyFilters(pools, filters)

	httpLogger.Debug().
		Int("received", len(resp.Pools)).
		Int("valid", len(pools)).
		Msg("Fetched pools")
	return pools, nil
}

// FetchSentiment returns sentiment in [-1, 1] per canonical symbol.
func (h *HTTPProvider) FetchSentiment(ctx context.Context, symbols []string) (map[string]float64, error) {
	canon := canonicalSymbols(symbols)
	if len(canon) == 0 {
		return map[string]float64{}, nil
	}

	var resp sentimentResponse
	if err := h.getJSON(ctx, "/sentiment", url.Values{"symbols": {strings.Join(canon, ",")}}, &resp); err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(resp.Scores))
	for symbol, score := range resp.Scores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			httpLogger.Warn().Str("symbol", symbol).Msg("Dropping non-finite sentiment score")
			continue
		}
		scores[config.CanonicalSymbol(symbol)] = math.Max(-1, math.Min(1, score))
	}
	return scores, nil
}

// FetchPredictions returns the model's 0-1 outlook per pool.
func (h *HTTPProvider) FetchPredictions(ctx context.Context) ([]types.PoolPrediction, error) {
	var resp predictionsResponse
	if err := h.getJSON(ctx, "/predictions", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]types.PoolPrediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		if p.PoolID == "" || math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
			httpLogger.Warn().Str("poolID", string(p.PoolID)).Msg("Dropping invalid prediction")
			continue
		}
		p.Score = math.Max(0, math.Min(1, p.Score))
		out = append(out, p)
	}
	return out, nil
}

// FetchPoolHistory returns a chronologically ordered time series for one pool.
func (h *HTTPProvider) FetchPoolHistory(ctx context.Context, poolID types.PoolID, days int, interval string) (types.PoolHistory, error) {
	if poolID == "" || days <= 0 {
		return types.PoolHistory{}, fmt.Errorf("%w: pool %q days %d", ErrInvalidRequest, poolID, days)
	}
	if interval == "" {
		interval = "1d"
	}

	var hist types.PoolHistory
	path := "/pools/" + url.PathEscape(string(poolID)) + "/history"
	q := url.Values{"days": {strconv.Itoa(days)}, "interval": {interval}}
	if err := h.getJSON(ctx, path, q, &hist); err != nil {
		return types.PoolHistory{}, err
	}
	if err := validateTimeSequence(hist.Points, poolID); err != nil {
		return types.PoolHistory{}, err
	}
	hist.PoolID = poolID
	hist.Interval = interval
	return hist, nil
}

// CheckHealth reports whether the provider answers its health endpoint.
func (h *HTTPProvider) CheckHealth(ctx context.Context) bool {
	req, err := h.newRequest(ctx, "/health", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		httpLogger.Debug().Err(err).Msg("Health check failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode == http.StatusOK
}

func (h *HTTPProvider) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	u := *h.baseURL
	u.Path = u.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return req, nil
}

func (h *HTTPProvider) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := h.newRequest(ctx, path, q)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	if len(body) == 0 {
		return fmt.Errorf("empty response body from %s", path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON response from %s: %w", path, err)
	}
	return nil
}

// validateTimeSequence sorts points chronologically and rejects unusable ones.
func validateTimeSequence(points []types.PoolHistoryPoint, poolID types.PoolID) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: no history points for pool %s", ErrInvalidPoolData, poolID)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	for i, pt := range points {
		if pt.Timestamp.IsZero() {
			return fmt.Errorf("%w: pool %s point %d has no timestamp", ErrInvalidPoolData, poolID, i)
		}
		if pt.PriceA <= 0 || pt.PriceB <= 0 || math.IsNaN(pt.PriceA) || math.IsNaN(pt.PriceB) {
			return fmt.Errorf("%w: pool %s point %d has non-positive prices", ErrInvalidPoolData, poolID, i)
		}
		if i > 0 && pt.Timestamp.Equal(points[i-1].Timestamp) {
			httpLogger.Warn().
				Str("poolID", string(poolID)).
				Int("index", i).
				Msg("Duplicate timestamp in pool history")
		}
	}
	return nil
}

// isRetryable classifies an error from this provider.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, ErrInvalidRequest)
}
