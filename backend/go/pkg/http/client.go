package http

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/pkg/circuitbreaker"
	"fmt"
	"net/http"
	"time"
)

// Client wraps http.Client with an optional circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient creates a Client with the given overall request timeout.
// The breaker is only installed when cfg.Enabled is set.
func NewClient(cfg config.CircuitBreakerConfig, timeout time.Duration) (*Client, error) {
	c := &Client{httpClient: &http.Client{Timeout: timeout}}
	if !cfg.Enabled {
		return c, nil
	}
	breaker, err := createCircuitBreaker(cfg)
	if err != nil {
		return nil, err
	}
	c.breaker = breaker
	return c, nil
}

// Do executes req. Transport errors and 5xx responses count as breaker failures;
// a 5xx response is still returned to the caller so it can read the body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Do(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil && resp == nil {
		return nil, err
	}
	return resp, nil
}
