package domain

import (
	"errors"
	"fmt"
)

// Error classes. Specific errors wrap one of these so callers can classify with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrInvalidState  = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
	ErrProvider      = errors.New("provider call failed")
	ErrConfiguration = errors.New("configuration error")
)

var (
	ErrTriplerNotFound    = fmt.Errorf("tripler %w", ErrNotFound)
	ErrAmbassadorNotFound = fmt.Errorf("ambassador %w", ErrNotFound)
	ErrAccountNotFound    = fmt.Errorf("account %w", ErrNotFound)
	ErrPayoutNotFound     = fmt.Errorf("payout %w", ErrNotFound)

	ErrTriplerNotPending   = fmt.Errorf("tripler is not pending: %w", ErrInvalidState)
	ErrTriplerNotConfirmed = fmt.Errorf("tripler is not confirmed: %w", ErrInvalidState)
	ErrPayoutNotPending    = fmt.Errorf("payout is not pending: %w", ErrInvalidState)

	ErrAmbassadorNotApproved = fmt.Errorf("ambassador is not approved: %w", ErrValidation)
	ErrAmbassadorLocked      = fmt.Errorf("ambassador is locked: %w", ErrValidation)
	ErrTriplerNotClaimed     = fmt.Errorf("tripler is not claimed by ambassador: %w", ErrValidation)
	ErrNoPrimaryAccount      = fmt.Errorf("ambassador has no primary account: %w", ErrValidation)

	ErrPayoutAmountNotSet = fmt.Errorf("payout amount must be positive: %w", ErrConfiguration)
)

// ProviderError wraps a failed call to an external payment provider.
type ProviderError struct {
	Provider ProviderType
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap exposes both the provider class and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}
