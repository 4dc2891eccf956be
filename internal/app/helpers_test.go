package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
	"github.com/zestyping/blockpower-be-sub000/pkg/paypalclient"
	"github.com/zestyping/blockpower-be-sub000/pkg/stripeclient"
)

const testAmount int64 = 5000

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentSMS struct {
	To   string
	Body string
}

type stubSMS struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (s *stubSMS) SendSMS(_ context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, sentSMS{To: to, Body: body})
	return "SM-test", nil
}

func (s *stubSMS) messages() []sentSMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSMS(nil), s.sent...)
}

func (s *stubSMS) to(phone string) []string {
	var bodies []string
	for _, m := range s.messages() {
		if m.To == phone {
			bodies = append(bodies, m.Body)
		}
	}
	return bodies
}

type publishedEvent struct {
	Exchange   string
	RoutingKey string
	Body       interface{}
}

type stubPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (p *stubPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for _, e := range p.events {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}

type stubMailer struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (m *stubMailer) Send(_ []string, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	return nil
}

// stubStripe fails the first `failures` calls with failErr, then succeeds.
type stubStripe struct {
	mu       sync.Mutex
	calls    []stripeclient.TransferRequest
	failures int
	failErr  error
	delay    time.Duration
}

func (s *stubStripe) CreateTransfer(ctx context.Context, req stripeclient.TransferRequest) (*stripeclient.Transfer, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= s.failures {
		if s.failErr != nil {
			return nil, s.failErr
		}
		return nil, errors.New("stripe unavailable")
	}
	return &stripeclient.Transfer{ID: "tr_" + req.IdempotencyKey, Amount: req.Amount, Destination: req.Destination}, nil
}

func (s *stubStripe) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubPayPal struct {
	mu    sync.Mutex
	calls []paypalclient.PayoutRequest
	err   error
}

func (p *stubPayPal) CreatePayout(_ context.Context, req paypalclient.PayoutRequest) (*paypalclient.PayoutBatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	batch := &paypalclient.PayoutBatch{}
	batch.BatchHeader.PayoutBatchID = "BATCH-" + req.SenderBatchID
	return batch, nil
}

func (p *stubPayPal) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// harness wires the whole pipeline against the in-memory ledger and stub gateways.
type harness struct {
	repo         *store.MemoryRepository
	sms          *stubSMS
	events       *stubPublisher
	mail         *stubMailer
	stripe       *stubStripe
	paypal       *stubPayPal
	notifier     *Notifier
	trust        *TrustScorer
	confirmation *ConfirmationService
	disburser    *Disburser
	queue        *TaskQueue
	jobs         *Jobs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   store.NewMemoryRepository(),
		sms:    &stubSMS{},
		events: &stubPublisher{},
		mail:   &stubMailer{},
		stripe: &stubStripe{},
		paypal: &stubPayPal{},
	}
	logger := newTestLogger()
	h.notifier = NewNotifier(h.sms, h.events, h.mail, []string{"ops@example.com"}, "usd", logger)
	h.trust = NewTrustScorer(DefaultTrustThreshold, nil)
	h.confirmation = NewConfirmationService(h.repo, h.notifier, testAmount, "https://example.com/join", logger, nil)
	h.disburser = NewDisburser(h.repo, h.trust,
		NewProviderSet(NewStripeProvider(h.stripe, "usd"), NewPayPalProvider(h.paypal, "usd")),
		h.notifier, testAmount, time.Second, logger, nil)
	h.queue = NewTaskQueue(time.Hour, logger, nil)
	h.jobs = NewJobs(h.repo, h.queue, h.disburser, 50, logger, nil)
	return h
}

func (h *harness) ambassador(t *testing.T, approved bool, provider domain.ProviderType) *domain.Ambassador {
	t.Helper()
	amb := &domain.Ambassador{FirstName: "Ada", LastName: "Lovelace", Phone: "+14155550001", Email: "ada@example.com", Approved: approved}
	require.NoError(t, h.repo.CreateAmbassador(context.Background(), amb))
	if provider != "" {
		external := "acct_ada"
		if provider == domain.ProviderPayPal {
			external = "ada@example.com"
		}
		acc := &domain.Account{AmbassadorID: amb.ID, Provider: provider, ExternalID: external, IsPrimary: true}
		require.NoError(t, h.repo.CreateAccount(context.Background(), acc))
	}
	return amb
}

func (h *harness) tripler(t *testing.T, ambassadorID, phone string, status domain.TriplerStatus) *domain.Tripler {
	t.Helper()
	tripler := &domain.Tripler{
		FirstName: "Tom",
		LastName:  "Tripler",
		Phone:     phone,
		Status:    status,
		Triplees:  [domain.TripleeCount]string{"Alice", "Bob", "Carol"},
		ClaimedBy: ambassadorID,
	}
	require.NoError(t, h.repo.CreateTripler(context.Background(), tripler))
	return tripler
}

func (h *harness) drainAll(ctx context.Context) {
	for h.queue.DrainOnce(ctx) {
	}
}
