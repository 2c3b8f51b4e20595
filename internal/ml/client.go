package ml

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running model server.
type Client struct {
	base string
	rest *resty.Client
}

// NewClient creates an API client for base, e.g. http://localhost:8000.
func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(60 * time.Second)
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict posts one request. Non-2xx replies are returned as *APIError.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	result := &PredictResponse{}
	errBody := &ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		SetError(errBody).
		Post(c.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Detail: errBody.Detail}
	}
	return result, nil
}

// Health fetches the server's health view.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	result := &HealthInfo{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Detail: resp.String()}
	}
	return result, nil
}

// APIError is a non-2xx reply from the model server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Detail)
}
