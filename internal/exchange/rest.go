package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// restClient wraps resty with the per-venue token bucket and shared error
// handling. Every venue client builds on it.
type restClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	venue   string
}

// restConfig holds REST transport settings for one venue.
type restConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS float64
	Logger       *zap.Logger
	Venue        string
}

func newRESTClient(cfg restConfig) *restClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}

	return &restClient{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  cfg.Logger,
		venue:   cfg.Venue,
	}
}

// do executes a request after acquiring a rate-limit token. The wait is
// bounded by ctx, so an opportunity deadline caps time spent queueing.
func (c *restClient) do(ctx context.Context, method, path string, query string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", c.venue, err)
	}

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if query != "" {
		req.SetQueryString(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	RequestDurationSeconds.WithLabelValues(c.venue, path).Observe(time.Since(start).Seconds())

	if err != nil {
		RequestErrorsTotal.WithLabelValues(c.venue, "transport").Inc()
		return fmt.Errorf("%s %s %s: %w", c.venue, method, path, err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		kind := "server"
		if resp.StatusCode() < http.StatusInternalServerError {
			kind = "client"
		}
		RequestErrorsTotal.WithLabelValues(c.venue, kind).Inc()
		return fmt.Errorf("%s %s %s: status %d: %s",
			c.venue, method, path, resp.StatusCode(), resp.String())
	}

	return nil
}
