// Package enrollment looks up the external "is enrolled" fact consumed by
// token issuance. Enrollment is owned by the course platform; this package
// only reads it.
package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"coursehall/api_video/pkg/cache"
	"coursehall/api_video/pkg/clients"
	"coursehall/api_video/pkg/logging"
)

// Checker reports whether a user is actively enrolled in a batch.
type Checker interface {
	IsEnrolled(ctx context.Context, userID, batchID string) (bool, error)
}

type checkRequest struct {
	UserID  string `json:"user_id"`
	BatchID string `json:"batch_id"`
}

type checkResponse struct {
	Enrolled bool `json:"enrolled"`
}

// Config represents the configuration for the enrollment client
type Config struct {
	BaseURL        string
	ServiceToken   string
	Timeout        time.Duration
	Logger         logging.Logger
	ExecutorConfig *clients.HTTPExecutorConfig
	Cache          *cache.Cache
}

// Client is an HTTP client for the enrollment service with retry, circuit
// breaking, and a short-TTL cache in front of the lookup.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
	executor     failsafe.Executor[*http.Response]
	cache        *cache.Cache
}

// NewClient creates a new enrollment service client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	executorConfig := clients.DefaultHTTPExecutorConfig()
	if config.ExecutorConfig != nil {
		executorConfig = *config.ExecutorConfig
	}
	if executorConfig.CircuitBreaker == nil {
		cbConfig := clients.DefaultCircuitBreakerConfig()
		cbConfig.Name = "enrollment"
		cbConfig.Logger = config.Logger
		executorConfig.CircuitBreaker = clients.NewCircuitBreaker(cbConfig)
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   &http.Client{Timeout: config.Timeout, Transport: clients.DefaultTransport()},
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
		executor:     clients.NewHTTPExecutor(executorConfig),
		cache:        config.Cache,
	}
}

// IsEnrolled checks active enrollment for (userID, batchID).
func (c *Client) IsEnrolled(ctx context.Context, userID, batchID string) (bool, error) {
	if c.cache == nil {
		return c.lookup(ctx, userID, batchID)
	}

	key := "IsEnrolled:" + userID + "|" + batchID
	val, ok, err := c.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		enrolled, err := c.lookup(ctx, userID, batchID)
		if err != nil {
			return nil, false, err
		}
		return enrolled, true, nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return val.(bool), nil
}

func (c *Client) lookup(ctx context.Context, userID, batchID string) (bool, error) {
	jsonBody, err := json.Marshal(checkRequest{UserID: userID, BatchID: batchID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/enrollments/check"

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.serviceToken)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return false, fmt.Errorf("failed to call enrollment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("enrollment service returned status %d", resp.StatusCode)
	}

	var check checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return check.Enrolled, nil
}
