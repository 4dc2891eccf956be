/**
 * @description
 * Domain models for the referral side of the payout pipeline: the Tripler who must
 * confirm by SMS and the Ambassador who claimed them.
 */
package domain

import "time"

// TriplerStatus is the confirmation state of a Tripler. There is no rejected state:
// a rejected Tripler is deleted.
type TriplerStatus string

const (
	TriplerUnconfirmed TriplerStatus = "unconfirmed"
	TriplerPending     TriplerStatus = "pending"
	TriplerConfirmed   TriplerStatus = "confirmed"
)

// TripleeCount is the fixed number of names a Tripler claims to refer.
const TripleeCount = 3

// Tripler is a referred contact claimed by exactly one Ambassador.
type Tripler struct {
	ID                string               `json:"id"`
	FirstName         string               `json:"first_name"`
	LastName          string               `json:"last_name"`
	Phone             string               `json:"phone"`
	Status            TriplerStatus        `json:"status"`
	Triplees          [TripleeCount]string `json:"triplees"`
	CarrierName       string               `json:"carrier_name,omitempty"`
	IsVoIP            bool                 `json:"is_voip"`
	UpgradeNoticeSent bool                 `json:"upgrade_notice_sent"`
	ClaimedBy         string               `json:"claimed_by"`
	ConfirmedAt       *time.Time           `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Ambassador is the referring party who receives disbursements.
type Ambassador struct {
	ID           string         `json:"id"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Phone        string         `json:"phone"`
	Email        string         `json:"email"`
	Approved     bool           `json:"approved"`
	Locked       bool           `json:"locked"`
	TrustFactors map[string]int `json:"trust_factors"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Factor returns the named trust factor value, zero when absent.
func (a *Ambassador) Factor(name string) int {
	if a == nil || a.TrustFactors == nil {
		return 0
	}
	return a.TrustFactors[name]
}
