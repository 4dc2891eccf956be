/**
 * @description
 * Ledger models: payment Accounts owned by Ambassadors and the Payout obligations
 * created when a Tripler confirms.
 */
package domain

import (
	"encoding/json"
	"time"
)

// ProviderType identifies which payment provider an Account belongs to.
type ProviderType string

const (
	// ProviderStripe is the bank-linked transfer provider.
	ProviderStripe ProviderType = "stripe"
	// ProviderPayPal is the email-based payout provider.
	ProviderPayPal ProviderType = "paypal"
)

// Valid reports whether p is one of the known providers.
func (p ProviderType) Valid() bool {
	return p == ProviderStripe || p == ProviderPayPal
}

// Account is a payment destination owned by an Ambassador.
type Account struct {
	ID           string       `json:"id"`
	AmbassadorID string       `json:"ambassador_id"`
	Provider     ProviderType `json:"provider"`
	ExternalID   string       `json:"external_id"`
	IsPrimary    bool         `json:"is_primary"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PayoutStatus is the lifecycle state of a Payout.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutDisbursed PayoutStatus = "disbursed"
	// PayoutSettled is set by reconciliation, which lives outside this service.
	PayoutSettled PayoutStatus = "settled"
	// PayoutError is a terminal state only ever set by an operator.
	PayoutError PayoutStatus = "error"
)

// Payout records one disbursement obligation from the platform to an Ambassador,
// keyed by the Tripler whose confirmation created it.
type Payout struct {
	ID             string          `json:"id"`
	AmbassadorID   string          `json:"ambassador_id"`
	TriplerID      string          `json:"tripler_id"`
	AccountID      *string         `json:"account_id,omitempty"`
	Amount         int64           `json:"amount"`
	Status         PayoutStatus    `json:"status"`
	DisbursementID *string         `json:"disbursement_id,omitempty"`
	SettlementID   *string         `json:"settlement_id,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	DisbursedAt    *time.Time      `json:"disbursed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PayoutCandidate is one (Ambassador, Tripler) pair found by the batch query.
type PayoutCandidate struct {
	PayoutID     string
	AmbassadorID string
	TriplerID    string
	CreatedAt    time.Time
}

// Cursor returns the candidate's position in the batch order.
func (c PayoutCandidate) Cursor() PayoutCursor {
	return PayoutCursor{CreatedAt: c.CreatedAt, PayoutID: c.PayoutID}
}

// PayoutCursor is a position in the (created_at, id) order of pending payouts.
// The zero value is before every payout.
type PayoutCursor struct {
	CreatedAt time.Time
	PayoutID  string
}

// IsZero reports whether c is the start position.
func (c PayoutCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.PayoutID == ""
}

// Before reports whether c sorts strictly before o.
func (c PayoutCursor) Before(o PayoutCursor) bool {
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.PayoutID < o.PayoutID
}

// PayoutFailure is the error payload attached to a pending payout after a failed attempt.
type PayoutFailure struct {
	Provider ProviderType `json:"provider"`
	Message  string       `json:"message"`
	At       time.Time    `json:"at"`
}
