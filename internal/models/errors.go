package models

import (
	"errors"
)

var (
	ErrNoRecord     = errors.New("models: no matching record found")
	ErrUnauthorized = errors.New("models: caller identity could not be resolved")
	ErrInvalidInput = errors.New("models: purchase token is missing")

	ErrProviderAuth  = errors.New("models: provider credential exchange failed")
	ErrProviderQuery = errors.New("models: provider subscription query failed")

	ErrSubscriptionNotActive = errors.New("models: subscription is not active")
	ErrInvalidProduct        = errors.New("models: unexpected product id")
	ErrAlreadyExpired        = errors.New("models: subscription already expired at verification")

	// ErrOwnershipConflict is the anti-fraud invariant: a purchase token is
	// bound to its first verified owner for life.
	ErrOwnershipConflict = errors.New("models: purchase token belongs to another user")

	ErrAcknowledgment = errors.New("models: purchase acknowledgment failed")
	ErrStoreWrite     = errors.New("models: entitlement store write failed")
)
