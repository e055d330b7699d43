package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/resilience"
)

// Options configures a Client
type Options struct {
	Name         string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RateLimit    float64 // requests per second, <= 0 means unlimited
	UserAgent    string

	// OnBreakerChange observes the circuit breaker, e.g. for logs and metrics
	OnBreakerChange func(name string, from, to resilience.State)
}

// DefaultOptions returns settings suited to third-party APIs
func DefaultOptions() Options {
	return Options{
		Name:         "http-external",
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		UserAgent:    "WidgetHost-HTTP/1.0",
	}
}

// Client wraps resty with rate limiting and circuit breaker protection
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	mu      sync.RWMutex
}

// NewClient creates an HTTP client whose transport retries transient failures
func NewClient(opts Options) *Client {
	d := DefaultOptions()
	if opts.Name == "" {
		opts.Name = d.Name
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = d.UserAgent
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	breaker := resilience.New(opts.Name, resilience.Settings{
		MaxRequests: 5,
		Timeout:     30 * time.Second,
		ReadyToTrip: resilience.Any(
			resilience.ConsecutiveFailures(10),
			resilience.FailureRatio(20, 0.7),
		),
		OnStateChange: opts.OnBreakerChange,
	})

	c := &Client{Resty: restyClient, Breaker: breaker}
	c.SetRateLimit(opts.RateLimit)
	return c
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Request creates a new request after the breaker and limiter admit it
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if !c.Breaker.Allow() {
		return nil, resilience.ErrCircuitOpen
	}
	return c.newRequest(ctx)
}

func (c *Client) newRequest(ctx context.Context) (*resty.Request, error) {
	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	return c.Resty.R().SetContext(ctx), nil
}

// Do runs one request under the circuit breaker. Responses with a 5xx status
// count as failures.
func (c *Client) Do(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	return resilience.Call(ctx, c.Breaker, func(ctx context.Context) (*resty.Response, error) {
		req, err := c.newRequest(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := fn(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, &StatusError{Code: resp.StatusCode()}
		}
		return resp, nil
	})
}

// StatusError reports a server-side failure
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d", e.Code)
}
