/**
 * @description
 * Client for the Stripe transfers API, used to move funds to an Ambassador's connected
 * bank-linked account. Requests are form encoded and carry an Idempotency-Key so a
 * retried transfer for the same payout is deduplicated by Stripe.
 *
 * @dependencies
 * - golang.org/x/time/rate: client-side request pacing.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithRateLimit paces outgoing requests to perSecond with a burst of one.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string, opts ...Option) *Client {
	c := &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransferRequest describes a transfer to a connected account.
type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
	Metadata       map[string]string
}

// Transfer is the subset of the Stripe transfer object the service uses.
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// ErrorResponse represents an error from the Stripe API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("stripe api error (status %d): %s %s", e.StatusCode, e.Err.Type, e.Err.Message)
	}
	return fmt.Sprintf("stripe api error (status %d)", e.StatusCode)
}

// CreateTransfer creates a transfer and returns the Stripe transfer object.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", req.Amount)
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, fmt.Errorf("transfer destination is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("destination", req.Destination)
	if req.TransferGroup != "" {
		form.Set("transfer_group", req.TransferGroup)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transfers", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	httpReq.SetBasicAuth(c.SecretKey, "")
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, errResp); err != nil {
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return nil, errResp
	}

	var transfer Transfer
	if err := json.Unmarshal(body, &transfer); err != nil {
		return nil, fmt.Errorf("failed to decode transfer response: %w", err)
	}
	if transfer.ID == "" {
		return nil, fmt.Errorf("transfer response missing id")
	}
	return &transfer, nil
}
