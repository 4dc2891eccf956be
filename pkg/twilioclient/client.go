/**
 * @description
 * Client for the Twilio Messages API plus the request-signature check used to
 * authenticate inbound SMS webhooks.
 *
 * @dependencies
 * - golang.org/x/time/rate: keeps outbound SMS under the account's messages-per-second cap.
 */
package twilioclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a client for the Twilio REST API.
type Client struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Twilio API client. Outbound messages are paced to one per second.
func NewClient(baseURL, accountSID, authToken, from string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// ErrorResponse represents an error from the Twilio API.
type ErrorResponse struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("twilio api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// SendSMS sends body to the E.164 number to and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, url.PathEscape(c.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create message request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute message request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{}
		if err := json.Unmarshal(respBody, errResp); err != nil {
			return "", fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		errResp.StatusCode = resp.StatusCode
		return "", errResp
	}

	var msg struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return "", fmt.Errorf("failed to decode message response: %w", err)
	}
	return msg.SID, nil
}

// Signature computes the X-Twilio-Signature value for a form POST to fullURL.
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches the expected value.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Signature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
