package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/brije111/quietshare/internal/metrics"
	"github.com/brije111/quietshare/internal/receiver"
)

const (
	serviceName    = "quietshare"
	serviceVersion = "1.0"
	maxBackoff     = 30 * time.Second
)

// Config contains webhook client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Backoff       time.Duration // first retry delay, doubled per attempt
}

// Message is the JSON document posted for one event
type Message struct {
	RequestID string    `json:"request_id"`
	EventID   string    `json:"event_id"`
	Profile   string    `json:"profile"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload,omitempty"` // base64 in JSON
	Text      string    `json:"text,omitempty"`    // payload, when it is valid UTF-8
	Reason    string    `json:"reason,omitempty"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Service   struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"service"`
}

// NewMessage builds the message for ev
func NewMessage(ev receiver.Event) *Message {
	msg := &Message{
		RequestID: uuid.NewString(),
		EventID:   ev.ID,
		Profile:   ev.Profile,
		Kind:      ev.Kind.String(),
		Payload:   ev.Payload,
		Reason:    string(ev.Reason),
		Offset:    ev.Offset,
		Timestamp: ev.Timestamp,
	}
	if len(ev.Payload) > 0 && utf8.Valid(ev.Payload) {
		msg.Text = string(ev.Payload)
	}
	msg.Service.Name = serviceName
	msg.Service.Version = serviceVersion
	return msg
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError is a non-2xx webhook response
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// Client posts messages to the webhook endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	sem        *semaphore.Weighted
	metrics    *metrics.Metrics

	mu              sync.RWMutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration
	active          int
}

// NewClient creates a new webhook client
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		metrics:    m,
	}, nil
}

// Deliver posts msg, retrying server errors, rate limiting and network
// failures with exponential backoff
func (c *Client) Deliver(ctx context.Context, msg *Message) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	c.totalRequests++
	c.active++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	c.metrics.RecordWebhookRequest()
	startTime := time.Now()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()
			c.metrics.RecordWebhookRetry()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.Backoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.fail(startTime)
				return ctx.Err()
			}
		}

		err := c.doRequest(ctx, body)
		if err == nil {
			elapsed := time.Since(startTime)
			c.mu.Lock()
			c.successRequests++
			if c.avgResponseTime == 0 {
				c.avgResponseTime = elapsed
			} else {
				c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
			}
			c.mu.Unlock()
			c.metrics.RecordWebhookSuccess(elapsed.Seconds())
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	c.fail(startTime)
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) fail(startTime time.Time) {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
	c.metrics.RecordWebhookFailure(time.Since(startTime).Seconds())
}

// doRequest performs a single HTTP request to the webhook
func (c *Client) doRequest(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", serviceName+"/"+serviceVersion)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// isRetryable reports whether a failed attempt is worth repeating
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.active,
	}
}

// Close waits for active requests to complete
func (c *Client) Close() error {
	if err := c.sem.Acquire(context.Background(), int64(c.config.MaxConcurrent)); err != nil {
		return err
	}
	c.sem.Release(int64(c.config.MaxConcurrent))
	c.httpClient.CloseIdleConnections()
	return nil
}
