/**
 * @description
 * The Repository interface is the Payout Ledger contract: the data access operations
 * needed by the confirmation state machine, the batch scheduler and the disburser.
 * Both the PostgreSQL and the in-memory implementations satisfy it.
 */

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Tripler methods
	CreateTripler(ctx context.Context, tripler *domain.Tripler) error
	FindTriplerByID(ctx context.Context, triplerID string) (*domain.Tripler, error)
	FindTriplerByPhone(ctx context.Context, phone string) (*domain.Tripler, error)
	DeleteTripler(ctx context.Context, triplerID string) error
	MarkUpgradeNoticeSent(ctx context.Context, triplerID string) error
	// ConfirmTripler moves a pending Tripler to confirmed and creates its pending Payout
	// atomically. It returns domain.ErrTriplerNotPending when the status was not pending.
	ConfirmTripler(ctx context.Context, triplerID string, amount int64) (*domain.Payout, error)

	// Ambassador and Account methods
	CreateAmbassador(ctx context.Context, ambassador *domain.Ambassador) error
	FindAmbassadorByID(ctx context.Context, ambassadorID string) (*domain.Ambassador, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindPrimaryAccount(ctx context.Context, ambassadorID string) (*domain.Account, error)
	SetPrimaryAccount(ctx context.Context, ambassadorID, accountID string) error

	// Payout methods
	// ListEligiblePayouts returns up to limit pending payouts of approved Ambassadors whose
	// Tripler still exists, ordered by (created_at, id) and strictly after the cursor.
	ListEligiblePayouts(ctx context.Context, after domain.PayoutCursor, limit int) ([]domain.PayoutCandidate, error)
	FindPayout(ctx context.Context, ambassadorID, triplerID string) (*domain.Payout, error)
	// MarkPayoutDisbursed only updates a payout that is still pending.
	MarkPayoutDisbursed(ctx context.Context, payoutID, accountID, disbursementID string, at time.Time) error
	RecordPayoutError(ctx context.Context, payoutID string, payload json.RawMessage) error
}
