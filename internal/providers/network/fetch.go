package network

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/capability"
)

// MaxResponseBody caps the body returned to a widget
const MaxResponseBody = 1 << 20

var (
	// ErrHostNotAllowed is returned when the target host matches no pattern
	ErrHostNotAllowed = errors.New("host not allowed")
	// ErrInvalidURL is returned for unparseable or non-http URLs
	ErrInvalidURL = errors.New("invalid url")
)

var allowedMethods = map[string]struct{}{
	"GET": {}, "HEAD": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
}

// FetchResponse is the value a widget's network.fetch promise resolves with
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	JSON    interface{}       `json:"json,omitempty"`
}

// Fetcher performs network.fetch for widgets
type Fetcher struct {
	client *Client
	hosts  []string
}

// NewFetcher creates a fetcher restricted to hosts matching one of the
// glob patterns (e.g. "api.example.com", "*.example.com", "*")
func NewFetcher(client *Client, hosts []string) *Fetcher {
	return &Fetcher{client: client, hosts: hosts}
}

// Operation returns the capability operation backed by this fetcher
func (f *Fetcher) Operation() capability.Operation {
	return capability.Operation{
		Name:        "network.fetch",
		Description: "Perform an HTTP request",
		Invoke: func(ctx context.Context, call capability.Call) (interface{}, error) {
			return f.Fetch(ctx, call.Args)
		},
	}
}

// Fetch executes one request described by args: url (required), method,
// headers and body
func (f *Fetcher) Fetch(ctx context.Context, args map[string]interface{}) (*FetchResponse, error) {
	raw, _ := args["url"].(string)
	target, err := f.validateURL(raw)
	if err != nil {
		return nil, err
	}

	method := "GET"
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if _, ok := allowedMethods[method]; !ok {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	trace := make(map[string]string, 2)
	tracing.InjectTraceContext(ctx, trace)

	resp, err := f.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		req.SetHeaders(trace)
		if headers, ok := args["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.SetHeader(k, s)
				}
			}
		}
		if body, ok := args["body"]; ok && body != nil {
			if s, ok := body.(string); ok {
				req.SetBody(s)
			} else {
				data, err := sonic.Marshal(body)
				if err != nil {
					return nil, fmt.Errorf("encode body: %w", err)
				}
				req.SetHeader("Content-Type", "application/json").SetBody(data)
			}
		}
		return req.Execute(method, target.String())
	})
	if err != nil {
		var status *StatusError
		if !errors.As(err, &status) || resp == nil {
			return nil, err
		}
	}

	return toFetchResponse(resp), nil
}

func (f *Fetcher) validateURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	for _, pattern := range f.hosts {
		if ok, _ := doublestar.Match(pattern, host); ok {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}

func toFetchResponse(resp *resty.Response) *FetchResponse {
	body := resp.Body()
	if len(body) > MaxResponseBody {
		body = body[:MaxResponseBody]
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	out := &FetchResponse{
		Status:  resp.StatusCode(),
		Headers: headers,
		Body:    string(body),
	}
	if strings.Contains(resp.Header().Get("Content-Type"), "json") {
		var parsed interface{}
		if err := sonic.Unmarshal(body, &parsed); err == nil {
			out.JSON = parsed
		}
	}
	return out
}
