package repository

import "errors"

// Sentinel errors translated by the service layer.
var (
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateEnrollment = errors.New("enrollment already exists for user and event")
	ErrDuplicatePayment    = errors.New("payment already exists for enrollment")
	ErrUnknownUser         = errors.New("user does not exist")
	ErrUnknownEvent        = errors.New("event does not exist")
	ErrUnknownEnrollment   = errors.New("enrollment does not exist")
	ErrUnknownMethod       = errors.New("payment method does not exist")
	ErrPaymentFinalized    = errors.New("payment is no longer pending")
)
