/**
 * @description
 * Trust scoring for Ambassadors. The score is a weighted sum of fraud-factor counters
 * and flags, recomputed on every call so that a gate never reads a stale value.
 */
package app

import (
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// Trust factor names as stored in Ambassador.TrustFactors.
const (
	FactorConfirmedTriplers     = "confirmed_triplers"
	FactorVerifiedPhone         = "verified_phone"
	FactorRejectedTriplers      = "rejected_triplers"
	FactorVoIPTriplers          = "voip_triplers"
	FactorSuspiciousTriplees    = "suspicious_triplees"
	FactorDuplicateTripleeNames = "duplicate_triplee_names"
	FactorAdminFlagged          = "admin_flagged"
)

// DefaultTrustThreshold is the score at or below which an Ambassador is locked.
const DefaultTrustThreshold = -8

// DefaultTrustWeights returns the built-in weight for every known factor.
func DefaultTrustWeights() map[string]int {
	return map[string]int{
		FactorConfirmedTriplers:     1,
		FactorVerifiedPhone:         2,
		FactorRejectedTriplers:      -2,
		FactorVoIPTriplers:          -3,
		FactorSuspiciousTriplees:    -2,
		FactorDuplicateTripleeNames: -3,
		FactorAdminFlagged:          -10,
	}
}

// TrustScorer computes Ambassador trust scores over a fixed factor set.
type TrustScorer struct {
	weights   map[string]int
	threshold int
}

// NewTrustScorer builds a scorer from the default weights, replacing any weight named in
// overrides. Override keys outside the known factor set are ignored.
func NewTrustScorer(threshold int, overrides map[string]int) *TrustScorer {
	weights := DefaultTrustWeights()
	for name, weight := range overrides {
		if _, known := weights[name]; known {
			weights[name] = weight
		}
	}
	return &TrustScorer{weights: weights, threshold: threshold}
}

// Score returns the weighted sum of the Ambassador's factors. Missing factors count as zero.
func (s *TrustScorer) Score(a *domain.Ambassador) int {
	score := 0
	for name, weight := range s.weights {
		score += weight * a.Factor(name)
	}
	return score
}

// IsLocked reports whether the Ambassador's score is at or below the threshold.
// A nil Ambassador is never locked.
func (s *TrustScorer) IsLocked(a *domain.Ambassador) bool {
	if a == nil {
		return false
	}
	return s.Score(a) <= s.threshold
}

// Threshold returns the lock threshold.
func (s *TrustScorer) Threshold() int {
	return s.threshold
}
