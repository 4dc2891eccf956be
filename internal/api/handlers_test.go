package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/pkg/twilioclient"
)

const (
	testInternalKey = "internal-secret"
	testAuthToken   = "twilio-token"
	testWebhookURL  = "https://hooks.example.com/sms/inbound"
)

type reply struct{ from, body string }

type stubReplies struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (s *stubReplies) HandleReply(_ context.Context, from, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{from, body})
	return s.err
}

type stubBatches struct {
	enqueued int
	err      error
	runs     int
}

func (s *stubBatches) RunPayoutBatch(context.Context) (int, error) {
	s.runs++
	return s.enqueued, s.err
}

type stubQueue struct{ depth int }

func (s stubQueue) Len() int { return s.depth }

type stubAccounts struct {
	err   error
	calls [][2]string
}

func (s *stubAccounts) SetPrimaryAccount(_ context.Context, ambassadorID, accountID string) error {
	s.calls = append(s.calls, [2]string{ambassadorID, accountID})
	return s.err
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(context.Context, string, string, int, time.Duration) (bool, error) {
	return s.allowed, s.err
}

type RouterSuite struct {
	suite.Suite
	replies  *stubReplies
	batches  *stubBatches
	accounts *stubAccounts
	limiter  RateLimiter
	cfg      RouterConfig
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.replies = &stubReplies{}
	s.batches = &stubBatches{enqueued: 3}
	s.accounts = &stubAccounts{}
	s.limiter = nil
	s.cfg = RouterConfig{
		InternalAPIKey: testInternalKey,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	}
}

func (s *RouterSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(s.replies, s.batches, stubQueue{depth: 7}, s.accounts, s.limiter, 5, logger)
	rec := httptest.NewRecorder()
	NewRouter(h, s.cfg, logger).ServeHTTP(rec, req)
	return rec
}

func inboundRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sms/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func (s *RouterSuite) TestHealthAndMetrics() {
	rec := s.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, rec.Code)

	rec = s.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("# metrics", rec.Body.String())
}

func (s *RouterSuite) TestInboundSMSDispatchesReply() {
	rec := s.serve(inboundRequest(url.Values{"From": {"+14155550100"}, "Body": {"YES"}}))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("text/xml", rec.Header().Get("Content-Type"))
	s.Contains(rec.Body.String(), "<Response></Response>")
	s.Equal([]reply{{"+14155550100", "YES"}}, s.replies.replies)
}

func (s *RouterSuite) TestInboundSMSAcknowledgesFailures() {
	s.replies.err = domain.ErrTriplerNotPending
	rec := s.serve(inboundRequest(url.Values{"From": {"+14155550100"}, "Body": {"YES"}}))
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "<Response></Response>")

	rec = s.serve(inboundRequest(url.Values{"Body": {"YES"}}))
	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.replies.replies, 1, "a reply without sender is not dispatched")
}

func (s *RouterSuite) TestInboundSMSRateLimited() {
	s.limiter = stubLimiter{allowed: false}
	rec := s.serve(inboundRequest(url.Values{"From": {"+14155550100"}, "Body": {"YES"}}))
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(s.replies.replies)

	// A limiter outage fails open.
	s.limiter = stubLimiter{allowed: true, err: errors.New("redis down")}
	s.serve(inboundRequest(url.Values{"From": {"+14155550100"}, "Body": {"YES"}}))
	s.Len(s.replies.replies, 1)
}

func (s *RouterSuite) TestInboundSMSSignature() {
	s.cfg.ValidateSignature = true
	s.cfg.TwilioAuthToken = testAuthToken
	s.cfg.PublicWebhookURL = testWebhookURL

	form := url.Values{"From": {"+14155550100"}, "Body": {"YES"}}

	req := inboundRequest(form)
	req.Header.Set("X-Twilio-Signature", "bogus")
	rec := s.serve(req)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Empty(s.replies.replies)

	req = inboundRequest(form)
	req.Header.Set("X-Twilio-Signature", twilioclient.Signature(testAuthToken, testWebhookURL, form))
	rec = s.serve(req)
	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.replies.replies, 1)
}

func (s *RouterSuite) TestInternalRoutesRequireKey() {
	rec := s.serve(httptest.NewRequest(http.MethodPost, "/internal/payouts/run", nil))
	s.Equal(http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/internal/queue", nil)
	req.Header.Set("X-Internal-API-Key", "wrong")
	rec = s.serve(req)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Zero(s.batches.runs)
}

func (s *RouterSuite) TestRunPayoutsAndQueueStatus() {
	req := httptest.NewRequest(http.MethodPost, "/internal/payouts/run", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := s.serve(req)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"enqueued":3}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/internal/queue", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec = s.serve(req)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"depth":7}`, rec.Body.String())

	s.batches.err = errors.New("db down")
	req = httptest.NewRequest(http.MethodPost, "/internal/payouts/run", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec = s.serve(req)
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *RouterSuite) TestSetPrimaryAccount() {
	req := httptest.NewRequest(http.MethodPost, "/internal/ambassadors/amb-1/primary-account/acc-2", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := s.serve(req)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal([][2]string{{"amb-1", "acc-2"}}, s.accounts.calls)

	s.accounts.err = domain.ErrAccountNotFound
	req = httptest.NewRequest(http.MethodPost, "/internal/ambassadors/amb-1/primary-account/missing", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec = s.serve(req)
	s.Equal(http.StatusNotFound, rec.Code)
}
