package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// These tests drive the whole path: inbound reply, ledger, batch tick, queue drain and
// provider call.

func TestPipeline_YesCreatesPendingPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.ambassador(t, true, domain.ProviderStripe)
	t1 := h.tripler(t, a1.ID, "+14155550100", domain.TriplerPending)

	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "YES"))
	h.confirmation.Wait()

	stored, err := h.repo.FindTriplerByID(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriplerConfirmed, stored.Status)

	payouts := h.repo.Payouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, a1.ID, payouts[0].AmbassadorID)
	assert.Equal(t, t1.ID, payouts[0].TriplerID)
	assert.Equal(t, domain.PayoutPending, payouts[0].Status)
	assert.Equal(t, testAmount, payouts[0].Amount)
}

func TestPipeline_TickDisbursesConfirmedPair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.ambassador(t, true, domain.ProviderStripe)
	t1 := h.tripler(t, a1.ID, "+14155550100", domain.TriplerPending)
	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "YES"))
	h.confirmation.Wait()

	n, err := h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.drainAll(ctx)

	payout, err := h.repo.FindPayout(ctx, a1.ID, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutDisbursed, payout.Status)
	require.NotNil(t, payout.DisbursementID)
	assert.NotEmpty(t, *payout.DisbursementID)

	// Nothing is left for the next tick.
	n, err = h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, h.stripe.callCount())
}

func TestPipeline_NoRemovesTripler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.ambassador(t, true, domain.ProviderStripe)
	t1 := h.tripler(t, a1.ID, "+14155550100", domain.TriplerPending)

	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "NO"))

	_, err := h.repo.FindTriplerByID(ctx, t1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.repo.Payouts())

	n, err := h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeline_UnconfirmedTriplerAbortsDisbursement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1, t1, payout := h.confirmedPair(t, true, domain.ProviderStripe)

	unconfirmed := *t1
	unconfirmed.Status = domain.TriplerUnconfirmed
	err := h.disburser.Disburse(ctx, a1, &unconfirmed)
	assert.ErrorIs(t, err, domain.ErrTriplerNotConfirmed)
	assert.Equal(t, 0, h.stripe.callCount())

	stored, err := h.repo.FindPayout(ctx, a1.ID, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, *payout, *stored)
}

func TestPipeline_TimeoutThenRetrySucceeds(t *testing.T) {
	h := newHarness(t)
	h.stripe.failures = 1
	h.stripe.failErr = context.DeadlineExceeded
	ctx := context.Background()
	a1 := h.ambassador(t, true, domain.ProviderStripe)
	t1 := h.tripler(t, a1.ID, "+14155550100", domain.TriplerPending)
	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "YES"))
	h.confirmation.Wait()

	_, err := h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	h.drainAll(ctx)

	payout, err := h.repo.FindPayout(ctx, a1.ID, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, payout.Status)
	assert.NotEmpty(t, payout.Error)

	n, err := h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.drainAll(ctx)

	payout, err = h.repo.FindPayout(ctx, a1.ID, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutDisbursed, payout.Status)
	require.NotNil(t, payout.DisbursementID)
	assert.Equal(t, 2, h.stripe.callCount())

	// Both attempts carried the same idempotency key.
	assert.Equal(t, h.stripe.calls[0].IdempotencyKey, h.stripe.calls[1].IdempotencyKey)
	assert.Equal(t,
		[]string{domain.RoutingTriplerConfirmed, domain.RoutingPayoutFailed, domain.RoutingPayoutDisbursed},
		h.events.routingKeys())
}

func TestPipeline_NoAfterConfirmationKeepsPayoutOutOfBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.ambassador(t, true, domain.ProviderStripe)
	t1 := h.tripler(t, a1.ID, "+14155550100", domain.TriplerPending)
	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "YES"))
	h.confirmation.Wait()

	require.NoError(t, h.confirmation.HandleReply(ctx, t1.Phone, "NO"))
	_, err := h.repo.FindTriplerByID(ctx, t1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The payout row survives the detach but is no longer eligible.
	payouts := h.repo.Payouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PayoutPending, payouts[0].Status)

	n, err := h.jobs.RunPayoutBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	h.drainAll(ctx)
	assert.Equal(t, 0, h.stripe.callCount())
}
