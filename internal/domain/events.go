package domain

import "time"

// Exchange and routing keys for events published by this service.
const (
	EventsExchange          = "ambassador_events"
	RoutingTriplerConfirmed = "tripler.confirmed"
	RoutingPayoutDisbursed  = "payout.disbursed"
	RoutingPayoutFailed     = "payout.failed"
)

// TriplerConfirmedEvent is published when a Tripler replies YES and a payout is created.
type TriplerConfirmedEvent struct {
	TriplerID    string    `json:"tripler_id"`
	AmbassadorID string    `json:"ambassador_id"`
	PayoutID     string    `json:"payout_id"`
	Amount       int64     `json:"amount"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PayoutEvent is published after each disbursement attempt.
type PayoutEvent struct {
	PayoutID       string       `json:"payout_id"`
	AmbassadorID   string       `json:"ambassador_id"`
	TriplerID      string       `json:"tripler_id"`
	Provider       ProviderType `json:"provider"`
	Amount         int64        `json:"amount"`
	DisbursementID string       `json:"disbursement_id,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}
