/**
 * @description
 * Client for the PayPal Payouts API, used to pay Ambassadors whose primary account is a
 * PayPal email. It obtains an OAuth2 client-credentials token, caches it until shortly
 * before expiry, and submits single-item payout batches keyed by the payout id.
 *
 * @dependencies
 * - github.com/shopspring/decimal: minor-unit to decimal string conversion.
 * - golang.org/x/time/rate: client-side request pacing.
 */
package paypalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client is a client for the PayPal REST API.
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	limiter      *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
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

// WithRateLimit paces outgoing payout requests to perSecond with a burst of one.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a new PayPal API client.
func NewClient(baseURL, clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PayoutRequest describes a single-recipient payout.
type PayoutRequest struct {
	SenderBatchID string
	ReceiverEmail string
	// AmountMinor is in minor currency units (cents).
	AmountMinor int64
	Currency    string
	Note        string
	SenderItem  string
}

type payoutAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type payoutItem struct {
	RecipientType string       `json:"recipient_type"`
	Amount        payoutAmount `json:"amount"`
	Receiver      string       `json:"receiver"`
	Note          string       `json:"note,omitempty"`
	SenderItemID  string       `json:"sender_item_id,omitempty"`
}

type payoutBody struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject,omitempty"`
	} `json:"sender_batch_header"`
	Items []payoutItem `json:"items"`
}

// PayoutBatch is the subset of the create-payout response the service uses.
type PayoutBatch struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

// ErrorResponse represents an error from the PayPal API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *ErrorResponse) Error() string {
	if e.Name != "" || e.Message != "" {
		return fmt.Sprintf("paypal api error (status %d): %s %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("paypal api error (status %d)", e.StatusCode)
}

// FormatAmount renders minor units as a two-decimal string, e.g. 5000 -> "50.00".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// CreatePayout submits a single-item payout batch and returns the PayPal batch id.
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutBatch, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("payout amount must be positive, got %d", req.AmountMinor)
	}
	if strings.TrimSpace(req.ReceiverEmail) == "" {
		return nil, fmt.Errorf("payout receiver is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body payoutBody
	body.SenderBatchHeader.SenderBatchID = req.SenderBatchID
	body.SenderBatchHeader.EmailSubject = "You have a payout"
	body.Items = []payoutItem{{
		RecipientType: "EMAIL",
		Amount:        payoutAmount{Value: FormatAmount(req.AmountMinor), Currency: strings.ToUpper(req.Currency)},
		Receiver:      req.ReceiverEmail,
		Note:          req.Note,
		SenderItemID:  req.SenderItem,
	}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payments/payouts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("PayPal-Request-Id", req.SenderBatchID)

	respBody, status, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute payout request: %w", err)
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if status < 200 || status >= 300 {
		return nil, decodeError(status, respBody)
	}

	var batch PayoutBatch
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}
	if batch.BatchHeader.PayoutBatchID == "" {
		return nil, fmt.Errorf("payout response missing batch id")
	}
	return &batch, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", decodeError(status, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	// Refresh a minute early so a token never expires mid-request.
	lifetime := time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute
	if lifetime < 0 {
		lifetime = 0
	}
	c.token = tokenResp.AccessToken
	c.tokenExpiry = c.now().Add(lifetime)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func decodeError(status int, body []byte) error {
	errResp := &ErrorResponse{StatusCode: status}
	if err := json.Unmarshal(body, errResp); err != nil {
		return fmt.Errorf("failed to decode error response (status %d)", status)
	}
	return errResp
}
