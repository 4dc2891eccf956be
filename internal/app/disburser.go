/**
 * @description
 * The Disburser pays one (Ambassador, Tripler) pair. It checks preconditions, uses the
 * ledger's payout status as the idempotency guard, calls the provider for the
 * Ambassador's primary account under a timeout and records the outcome. A failed call
 * leaves the payout pending so the next batch run retries it.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
)

// Disburser executes payouts against the payment providers.
type Disburser struct {
	repo      store.Repository
	trust     *TrustScorer
	providers ProviderSet
	notifier  *Notifier
	amount    int64
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewDisburser creates a Disburser. amount is the configured per-referral amount in minor
// units and timeout bounds each provider call.
func NewDisburser(
	repo store.Repository,
	trust *TrustScorer,
	providers ProviderSet,
	notifier *Notifier,
	amount int64,
	timeout time.Duration,
	logger *slog.Logger,
	metrics *Metrics,
) *Disburser {
	return &Disburser{
		repo:      repo,
		trust:     trust,
		providers: providers,
		notifier:  notifier,
		amount:    amount,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// CheckPreconditions returns the first reason the pair cannot be paid, or nil.
func (d *Disburser) CheckPreconditions(ambassador *domain.Ambassador, tripler *domain.Tripler) error {
	switch {
	case ambassador == nil:
		return domain.ErrAmbassadorNotFound
	case tripler == nil:
		return domain.ErrTriplerNotFound
	case !ambassador.Approved:
		return domain.ErrAmbassadorNotApproved
	case ambassador.Locked || d.trust.IsLocked(ambassador):
		return domain.ErrAmbassadorLocked
	case tripler.ClaimedBy != ambassador.ID:
		return domain.ErrTriplerNotClaimed
	case tripler.Status != domain.TriplerConfirmed:
		return domain.ErrTriplerNotConfirmed
	}
	return nil
}

// DisbursePair loads the Ambassador and Tripler from the ledger and disburses the pair, so
// approval and trust are checked against current state. A pair that no longer resolves is
// skipped.
func (d *Disburser) DisbursePair(ctx context.Context, ambassadorID, triplerID string) error {
	ambassador, err := d.repo.FindAmbassadorByID(ctx, ambassadorID)
	var tripler *domain.Tripler
	if err == nil {
		tripler, err = d.repo.FindTriplerByID(ctx, triplerID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		d.metrics.RecordDisbursement("", "skipped")
		d.logger.Info("payout pair no longer resolves; skipping",
			"ambassador_id", ambassadorID, "tripler_id", triplerID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve payout pair: %w", err)
	}
	return d.Disburse(ctx, ambassador, tripler)
}

// Disburse pays the pending payout for the pair. It returns nil without calling a provider
// when the payout is no longer pending.
func (d *Disburser) Disburse(ctx context.Context, ambassador *domain.Ambassador, tripler *domain.Tripler) error {
	if err := d.CheckPreconditions(ambassador, tripler); err != nil {
		d.metrics.RecordDisbursement("", "rejected")
		return err
	}

	payout, err := d.repo.FindPayout(ctx, ambassador.ID, tripler.ID)
	if err != nil {
		return fmt.Errorf("find payout: %w", err)
	}
	if payout.Status != domain.PayoutPending {
		d.metrics.RecordDisbursement("", "skipped")
		d.logger.Info("payout already processed; skipping", "payout_id", payout.ID, "status", payout.Status)
		return nil
	}

	if d.amount <= 0 {
		return domain.ErrPayoutAmountNotSet
	}
	// The ledger amount was fixed at confirmation; fall back to configuration for rows
	// written without one.
	toPay := *payout
	if toPay.Amount <= 0 {
		toPay.Amount = d.amount
	}

	account, err := d.repo.FindPrimaryAccount(ctx, ambassador.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoPrimaryAccount
		}
		return fmt.Errorf("find primary account: %w", err)
	}
	provider, err := d.providers.For(account.Provider)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	started := d.now()
	disbursementID, callErr := provider.Disburse(callCtx, ambassador, account, &toPay)
	cancel()
	d.metrics.ObserveProviderCall(string(account.Provider), d.now().Sub(started))

	if callErr != nil {
		return d.recordFailure(ctx, ambassador, account, &toPay, callErr)
	}

	if err := d.repo.MarkPayoutDisbursed(ctx, payout.ID, account.ID, disbursementID, d.now().UTC()); err != nil {
		d.logger.Error("provider accepted payout but ledger update failed",
			"payout_id", payout.ID, "disbursement_id", disbursementID, "error", err)
		return fmt.Errorf("mark payout %s disbursed: %w", payout.ID, err)
	}

	d.metrics.RecordDisbursement(string(account.Provider), "disbursed")
	d.logger.Info("payout disbursed",
		"payout_id", payout.ID, "ambassador_id", ambassador.ID, "tripler_id", tripler.ID,
		"provider", account.Provider, "disbursement_id", disbursementID, "amount", toPay.Amount)
	_ = d.notifier.PayoutOutcome(ctx, domain.RoutingPayoutDisbursed, domain.PayoutEvent{
		PayoutID:       payout.ID,
		AmbassadorID:   ambassador.ID,
		TriplerID:      tripler.ID,
		Provider:       account.Provider,
		Amount:         toPay.Amount,
		DisbursementID: disbursementID,
		OccurredAt:     d.now().UTC(),
	})
	return nil
}

func (d *Disburser) recordFailure(ctx context.Context, ambassador *domain.Ambassador, account *domain.Account, payout *domain.Payout, callErr error) error {
	d.metrics.RecordDisbursement(string(account.Provider), "failed")
	providerErr := &domain.ProviderError{Provider: account.Provider, Err: callErr}

	payload, err := json.Marshal(domain.PayoutFailure{
		Provider: account.Provider,
		Message:  callErr.Error(),
		At:       d.now().UTC(),
	})
	if err == nil {
		err = d.repo.RecordPayoutError(ctx, payout.ID, payload)
	}
	if err != nil {
		d.logger.Error("failed to record payout error", "payout_id", payout.ID, "error", err)
	}

	_ = d.notifier.PayoutOutcome(ctx, domain.RoutingPayoutFailed, domain.PayoutEvent{
		PayoutID:     payout.ID,
		AmbassadorID: ambassador.ID,
		TriplerID:    payout.TriplerID,
		Provider:     account.Provider,
		Amount:       payout.Amount,
		Reason:       callErr.Error(),
		OccurredAt:   d.now().UTC(),
	})
	return providerErr
}
