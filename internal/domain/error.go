package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Provider adapter outcomes. None of these ever reach the reconciliation engine.
	ErrUnauthenticated = errors.New("notification failed authenticity check")
	ErrUnparseable     = errors.New("notification could not be parsed")
	ErrEventIgnored    = errors.New("notification does not carry a terminal outcome")

	// Reconciliation outcomes
	ErrUnknownPayment      = errors.New("unknown payment")
	ErrAlreadyTerminal     = errors.New("payment already in terminal state")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrPaymentStillPending = errors.New("payment still pending at provider")
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrForbidden           = errors.New("payment does not belong to caller")
)
