package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-process Repository used by tests and local runs without a
// database. A single mutex makes every method linearizable, which gives ConfirmTripler the
// same compare-and-set behaviour as the PostgreSQL implementation.
type MemoryRepository struct {
	mu          sync.Mutex
	triplers    map[string]domain.Tripler
	ambassadors map[string]domain.Ambassador
	accounts    map[string]domain.Account
	payouts     map[string]domain.Payout
	now         func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		triplers:    map[string]domain.Tripler{},
		ambassadors: map[string]domain.Ambassador{},
		accounts:    map[string]domain.Account{},
		payouts:     map[string]domain.Payout{},
		now:         time.Now,
	}
}

func (r *MemoryRepository) CreateTripler(_ context.Context, tripler *domain.Tripler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tripler.ID == "" {
		tripler.ID = uuid.NewString()
	}
	for _, existing := range r.triplers {
		if existing.Phone == tripler.Phone {
			return fmt.Errorf("phone %s already registered: %w", tripler.Phone, domain.ErrValidation)
		}
	}
	tripler.CreatedAt = r.now()
	tripler.UpdatedAt = tripler.CreatedAt
	r.triplers[tripler.ID] = *tripler
	return nil
}

func (r *MemoryRepository) FindTriplerByID(_ context.Context, triplerID string) (*domain.Tripler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triplers[triplerID]
	if !ok {
		return nil, domain.ErrTriplerNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) FindTriplerByPhone(_ context.Context, phone string) (*domain.Tripler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.triplers {
		if t.Phone == phone {
			return &t, nil
		}
	}
	return nil, domain.ErrTriplerNotFound
}

func (r *MemoryRepository) DeleteTripler(_ context.Context, triplerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.triplers[triplerID]; !ok {
		return domain.ErrTriplerNotFound
	}
	delete(r.triplers, triplerID)
	return nil
}

func (r *MemoryRepository) MarkUpgradeNoticeSent(_ context.Context, triplerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triplers[triplerID]
	if !ok {
		return domain.ErrTriplerNotFound
	}
	t.UpgradeNoticeSent = true
	t.UpdatedAt = r.now()
	r.triplers[triplerID] = t
	return nil
}

func (r *MemoryRepository) ConfirmTripler(_ context.Context, triplerID string, amount int64) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.triplers[triplerID]
	if !ok {
		return nil, domain.ErrTriplerNotFound
	}
	if t.Status != domain.TriplerPending {
		return nil, domain.ErrTriplerNotPending
	}
	for _, p := range r.payouts {
		if p.AmbassadorID == t.ClaimedBy && p.TriplerID == t.ID && p.Status == domain.PayoutPending {
			return nil, domain.ErrTriplerNotPending
		}
	}

	now := r.now()
	t.Status = domain.TriplerConfirmed
	t.ConfirmedAt = &now
	t.UpdatedAt = now
	r.triplers[triplerID] = t

	payout := domain.Payout{
		ID:           uuid.NewString(),
		AmbassadorID: t.ClaimedBy,
		TriplerID:    t.ID,
		Amount:       amount,
		Status:       domain.PayoutPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.payouts[payout.ID] = payout
	return &payout, nil
}

func (r *MemoryRepository) CreateAmbassador(_ context.Context, ambassador *domain.Ambassador) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ambassador.ID == "" {
		ambassador.ID = uuid.NewString()
	}
	ambassador.CreatedAt = r.now()
	ambassador.UpdatedAt = ambassador.CreatedAt
	stored := *ambassador
	stored.TrustFactors = copyFactors(ambassador.TrustFactors)
	r.ambassadors[ambassador.ID] = stored
	return nil
}

// UpdateAmbassador replaces a stored Ambassador. Tests use it to change trust factors
// and approval between calls.
func (r *MemoryRepository) UpdateAmbassador(ambassador domain.Ambassador) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ambassador.TrustFactors = copyFactors(ambassador.TrustFactors)
	ambassador.UpdatedAt = r.now()
	r.ambassadors[ambassador.ID] = ambassador
}

func (r *MemoryRepository) FindAmbassadorByID(_ context.Context, ambassadorID string) (*domain.Ambassador, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.ambassadors[ambassadorID]
	if !ok {
		return nil, domain.ErrAmbassadorNotFound
	}
	a.TrustFactors = copyFactors(a.TrustFactors)
	return &a, nil
}

func (r *MemoryRepository) CreateAccount(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if !account.Provider.Valid() {
		return fmt.Errorf("unknown provider %q: %w", account.Provider, domain.ErrValidation)
	}
	if _, ok := r.ambassadors[account.AmbassadorID]; !ok {
		return domain.ErrAmbassadorNotFound
	}
	account.CreatedAt = r.now()
	r.accounts[account.ID] = *account
	return nil
}

func (r *MemoryRepository) FindPrimaryAccount(_ context.Context, ambassadorID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.AmbassadorID == ambassadorID && acc.IsPrimary {
			return &acc, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (r *MemoryRepository) SetPrimaryAccount(_ context.Context, ambassadorID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.accounts[accountID]
	if !ok || target.AmbassadorID != ambassadorID {
		return domain.ErrAccountNotFound
	}
	for id, acc := range r.accounts {
		if acc.AmbassadorID == ambassadorID {
			acc.IsPrimary = id == accountID
			r.accounts[id] = acc
		}
	}
	return nil
}

func (r *MemoryRepository) ListEligiblePayouts(_ context.Context, after domain.PayoutCursor, limit int) ([]domain.PayoutCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []domain.PayoutCandidate
	for _, p := range r.payouts {
		if p.Status != domain.PayoutPending {
			continue
		}
		if a, ok := r.ambassadors[p.AmbassadorID]; !ok || !a.Approved {
			continue
		}
		if _, ok := r.triplers[p.TriplerID]; !ok {
			continue
		}
		c := domain.PayoutCandidate{PayoutID: p.ID, AmbassadorID: p.AmbassadorID, TriplerID: p.TriplerID, CreatedAt: p.CreatedAt}
		if after.Before(c.Cursor()) {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Cursor().Before(candidates[j].Cursor()) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (r *MemoryRepository) FindPayout(_ context.Context, ambassadorID, triplerID string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.Payout
	for _, p := range r.payouts {
		if p.AmbassadorID != ambassadorID || p.TriplerID != triplerID {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, domain.ErrPayoutNotFound
	}
	return found, nil
}

func (r *MemoryRepository) MarkPayoutDisbursed(_ context.Context, payoutID, accountID, disbursementID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return domain.ErrPayoutNotFound
	}
	if p.Status != domain.PayoutPending {
		return domain.ErrPayoutNotPending
	}
	p.Status = domain.PayoutDisbursed
	p.AccountID = &accountID
	p.DisbursementID = &disbursementID
	p.DisbursedAt = &at
	p.Error = nil
	p.UpdatedAt = r.now()
	r.payouts[payoutID] = p
	return nil
}

func (r *MemoryRepository) RecordPayoutError(_ context.Context, payoutID string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return domain.ErrPayoutNotFound
	}
	if p.Status != domain.PayoutPending {
		return domain.ErrPayoutNotPending
	}
	p.Error = append(json.RawMessage(nil), payload...)
	p.UpdatedAt = r.now()
	r.payouts[payoutID] = p
	return nil
}

// Payouts returns a snapshot of every stored payout.
func (r *MemoryRepository) Payouts() []domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payout, 0, len(r.payouts))
	for _, p := range r.payouts {
		out = append(out, p)
	}
	return out
}

func copyFactors(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
