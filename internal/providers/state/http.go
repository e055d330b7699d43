package state

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/providers/network"
)

// HTTPStore keeps blobs behind a remote endpoint: GET, PUT and DELETE on
// {base}/state/{instanceID}
type HTTPStore struct {
	base   string
	client *network.Client
}

// NewHTTPStore creates a store against baseURL
func NewHTTPStore(baseURL string, client *network.Client) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid state store url %q", baseURL)
	}
	return &HTTPStore{base: strings.TrimRight(baseURL, "/"), client: client}, nil
}

func (s *HTTPStore) url(instanceID string) string {
	return s.base + "/state/" + url.PathEscape(instanceID)
}

func (s *HTTPStore) GetState(ctx context.Context, instanceID string) ([]byte, bool, error) {
	if err := validateKey(instanceID); err != nil {
		return nil, false, err
	}
	resp, err := s.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Accept", "application/json").Get(s.url(instanceID))
	})
	if err != nil {
		return nil, false, err
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, unexpected(resp)
	}
}

func (s *HTTPStore) SetState(ctx context.Context, instanceID string, blob []byte) error {
	if err := validateKey(instanceID); err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetHeader("Content-Type", "application/json").SetBody(blob).Put(s.url(instanceID))
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return unexpected(resp)
	}
	return nil
}

func (s *HTTPStore) DeleteState(ctx context.Context, instanceID string) error {
	if err := validateKey(instanceID); err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Delete(s.url(instanceID))
	})
	if err != nil {
		return err
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return unexpected(resp)
	}
	return nil
}

// ErrUnexpectedStatus is returned for responses the store protocol does not define
var ErrUnexpectedStatus = errors.New("unexpected status")

func unexpected(resp *resty.Response) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status())
}
