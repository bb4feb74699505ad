package sources

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketwatch/internal/adapters/ratelimit"
	"marketwatch/internal/adapters/retry"
	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Options tunes the HTTP behaviour shared by every vendor client
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Limiter    *ratelimit.Limiter // nil = unlimited
	HTTPClient *http.Client       // nil = a client with Timeout
}

// HTTPError is a non-2xx vendor response
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// StatusCode lets the retry middleware classify the failure
func (e *HTTPError) StatusCode() int {
	return e.Status
}

// Unwrap maps throttling onto the rate limit sentinel
func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return errors.ErrRateLimitExceeded
	}
	return errors.ErrUpstream
}

// jsonClient issues rate-limited, retried GETs and parses the payload with gjson
type jsonClient struct {
	source  market.Source
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   *retry.Middleware
	logger  *logger.Logger
}

func newJSONClient(source market.Source, baseURL string, opts Options, log *logger.Logger) *jsonClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(string(source), 0)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = opts.MaxRetries

	return &jsonClient{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: limiter,
		retry:   retry.New(cfg),
		logger:  log.With("source", string(source)),
	}
}

// get fetches baseURL+path; endpoint labels the call in metrics
func (c *jsonClient) get(ctx context.Context, endpoint, path string, params url.Values) (gjson.Result, error) {
	var result gjson.Result

	start := time.Now()
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.fetch(ctx, path, params)
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(body) {
			return errors.Wrapf(errors.ErrUpstream, "%s %s returned invalid json", c.source, endpoint)
		}
		result = gjson.ParseBytes(body)
		return nil
	})
	metrics.RecordSourceAPICall(string(c.source), endpoint, time.Since(start), err)

	if err != nil {
		return gjson.Result{}, errors.Wrapf(err, "%s %s", c.source, endpoint)
	}
	return result, nil
}

func (c *jsonClient) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &HTTPError{Status: resp.StatusCode, Body: snippet}
	}

	return body, nil
}

// number reads a vendor field that may be a JSON number or a numeric string
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(r.Str), "%")
		if s == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// usable reports whether a parsed price can enter the quote pipeline
func usable(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}
