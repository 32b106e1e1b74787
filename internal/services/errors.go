package services

import "errors"

var (
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInsufficientFunds   = errors.New("insufficient wallet funds")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrAlreadyFinalized    = errors.New("request already finalized")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)
