package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// runRepositoryContract exercises behaviour every Repository implementation must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("confirm creates exactly one pending payout under racing calls", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)
		tripler := seedTripler(t, repo, amb.ID, domain.TriplerPending)

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.ConfirmTripler(ctx, tripler.ID, 5000)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		}
		assert.Equal(t, 1, succeeded)

		payout, err := repo.FindPayout(ctx, amb.ID, tripler.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutPending, payout.Status)
		assert.Equal(t, int64(5000), payout.Amount)

		stored, err := repo.FindTriplerByID(ctx, tripler.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TriplerConfirmed, stored.Status)
		assert.NotNil(t, stored.ConfirmedAt)
	})

	t.Run("confirm rejects non-pending triplers without mutation", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)

		for _, status := range []domain.TriplerStatus{domain.TriplerUnconfirmed, domain.TriplerConfirmed} {
			tripler := seedTripler(t, repo, amb.ID, status)
			_, err := repo.ConfirmTripler(ctx, tripler.ID, 5000)
			assert.ErrorIs(t, err, domain.ErrTriplerNotPending)

			stored, err := repo.FindTriplerByID(ctx, tripler.ID)
			require.NoError(t, err)
			assert.Equal(t, status, stored.Status)

			_, err = repo.FindPayout(ctx, amb.ID, tripler.ID)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}

		_, err := repo.ConfirmTripler(ctx, uuid.NewString(), 5000)
		assert.ErrorIs(t, err, domain.ErrTriplerNotFound)
	})

	t.Run("eligible payouts only include approved ambassadors", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		approved := seedAmbassador(t, repo, true)
		unapproved := seedAmbassador(t, repo, false)

		t1 := seedTripler(t, repo, approved.ID, domain.TriplerPending)
		t2 := seedTripler(t, repo, unapproved.ID, domain.TriplerPending)
		_, err := repo.ConfirmTripler(ctx, t1.ID, 100)
		require.NoError(t, err)
		_, err = repo.ConfirmTripler(ctx, t2.ID, 100)
		require.NoError(t, err)

		candidates, err := repo.ListEligiblePayouts(ctx, domain.PayoutCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, approved.ID, candidates[0].AmbassadorID)
		assert.Equal(t, t1.ID, candidates[0].TriplerID)
	})

	t.Run("eligible payouts page after a cursor and skip deleted triplers", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)

		var triplers []*domain.Tripler
		for i := 0; i < 3; i++ {
			tripler := seedTripler(t, repo, amb.ID, domain.TriplerPending)
			_, err := repo.ConfirmTripler(ctx, tripler.ID, 100)
			require.NoError(t, err)
			triplers = append(triplers, tripler)
		}
		require.NoError(t, repo.DeleteTripler(ctx, triplers[2].ID))

		first, err := repo.ListEligiblePayouts(ctx, domain.PayoutCursor{}, 1)
		require.NoError(t, err)
		require.Len(t, first, 1)

		rest, err := repo.ListEligiblePayouts(ctx, first[0].Cursor(), 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.True(t, first[0].Cursor().Before(rest[0].Cursor()))
		assert.ElementsMatch(t, []string{triplers[0].ID, triplers[1].ID}, []string{first[0].TriplerID, rest[0].TriplerID})

		none, err := repo.ListEligiblePayouts(ctx, rest[0].Cursor(), 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("disbursed payouts are immutable through the pending guard", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)
		acc := &domain.Account{AmbassadorID: amb.ID, Provider: domain.ProviderStripe, ExternalID: "acct_1", IsPrimary: true}
		require.NoError(t, repo.CreateAccount(ctx, acc))
		tripler := seedTripler(t, repo, amb.ID, domain.TriplerPending)
		payout, err := repo.ConfirmTripler(ctx, tripler.ID, 100)
		require.NoError(t, err)

		require.NoError(t, repo.RecordPayoutError(ctx, payout.ID, json.RawMessage(`{"message":"timeout"}`)))
		withErr, err := repo.FindPayout(ctx, amb.ID, tripler.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutPending, withErr.Status)
		assert.JSONEq(t, `{"message":"timeout"}`, string(withErr.Error))

		require.NoError(t, repo.MarkPayoutDisbursed(ctx, payout.ID, acc.ID, "tr_1", time.Now()))
		assert.ErrorIs(t, repo.MarkPayoutDisbursed(ctx, payout.ID, acc.ID, "tr_2", time.Now()), domain.ErrPayoutNotPending)
		assert.ErrorIs(t, repo.RecordPayoutError(ctx, payout.ID, json.RawMessage(`{}`)), domain.ErrPayoutNotPending)

		disbursed, err := repo.FindPayout(ctx, amb.ID, tripler.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PayoutDisbursed, disbursed.Status)
		require.NotNil(t, disbursed.DisbursementID)
		assert.Equal(t, "tr_1", *disbursed.DisbursementID)
		require.NotNil(t, disbursed.AccountID)
		assert.Equal(t, acc.ID, *disbursed.AccountID)
		assert.Empty(t, disbursed.Error)
	})

	t.Run("set primary account keeps a single primary", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)
		first := &domain.Account{AmbassadorID: amb.ID, Provider: domain.ProviderStripe, ExternalID: "acct_1", IsPrimary: true}
		second := &domain.Account{AmbassadorID: amb.ID, Provider: domain.ProviderPayPal, ExternalID: "amb@example.com"}
		require.NoError(t, repo.CreateAccount(ctx, first))
		require.NoError(t, repo.CreateAccount(ctx, second))

		require.NoError(t, repo.SetPrimaryAccount(ctx, amb.ID, second.ID))
		primary, err := repo.FindPrimaryAccount(ctx, amb.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, primary.ID)
		assert.Equal(t, domain.ProviderPayPal, primary.Provider)

		other := seedAmbassador(t, repo, true)
		assert.ErrorIs(t, repo.SetPrimaryAccount(ctx, other.ID, first.ID), domain.ErrAccountNotFound)
	})

	t.Run("detach deletes the tripler", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := seedAmbassador(t, repo, true)
		tripler := seedTripler(t, repo, amb.ID, domain.TriplerPending)

		require.NoError(t, repo.DeleteTripler(ctx, tripler.ID))
		_, err := repo.FindTriplerByPhone(ctx, tripler.Phone)
		assert.ErrorIs(t, err, domain.ErrTriplerNotFound)
		assert.ErrorIs(t, repo.DeleteTripler(ctx, tripler.ID), domain.ErrNotFound)
	})

	t.Run("upgrade notice flag and trust factors round trip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		amb := &domain.Ambassador{FirstName: "Ada", Approved: true, TrustFactors: map[string]int{"voip_triplers": 2}}
		require.NoError(t, repo.CreateAmbassador(ctx, amb))
		tripler := seedTripler(t, repo, amb.ID, domain.TriplerPending)

		require.NoError(t, repo.MarkUpgradeNoticeSent(ctx, tripler.ID))
		stored, err := repo.FindTriplerByID(ctx, tripler.ID)
		require.NoError(t, err)
		assert.True(t, stored.UpgradeNoticeSent)
		assert.Equal(t, tripler.Triplees, stored.Triplees)

		found, err := repo.FindAmbassadorByID(ctx, amb.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, found.Factor("voip_triplers"))
	})
}

func seedAmbassador(t *testing.T, repo Repository, approved bool) *domain.Ambassador {
	t.Helper()
	amb := &domain.Ambassador{FirstName: "Amb", LastName: "Assador", Email: "amb@example.com", Approved: approved}
	require.NoError(t, repo.CreateAmbassador(context.Background(), amb))
	return amb
}

var phoneSeq struct {
	sync.Mutex
	n int
}

func seedTripler(t *testing.T, repo Repository, ambassadorID string, status domain.TriplerStatus) *domain.Tripler {
	t.Helper()
	phoneSeq.Lock()
	phoneSeq.n++
	n := phoneSeq.n
	phoneSeq.Unlock()

	tripler := &domain.Tripler{
		FirstName: "Trip",
		LastName:  "Ler",
		Phone:     fmt.Sprintf("+1415555%04d", n),
		Status:    status,
		Triplees:  [domain.TripleeCount]string{"Alice A", "Bob B", "Carol C"},
		ClaimedBy: ambassadorID,
	}
	require.NoError(t, repo.CreateTripler(context.Background(), tripler))
	return tripler
}
