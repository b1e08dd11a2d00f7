// Package traderr defines the sentinel error taxonomy used across the
// engine. Callers wrap these with fmt.Errorf("...: %w", err) and check
// them with errors.Is.
package traderr

import "errors"

var (
	ErrRateLimited       = errors.New("rate limited")
	ErrNetwork           = errors.New("network error")
	ErrBadSymbol         = errors.New("bad symbol")
	ErrBadParams         = errors.New("bad params")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyInPosition = errors.New("already in position")
	ErrNoPosition        = errors.New("no position")
	ErrFeeGateDenied     = errors.New("fee gate denied")
	ErrDatabaseError     = errors.New("database error")
	ErrCancelled         = errors.New("cancelled")
	ErrAlreadyRunning    = errors.New("control loop already running")
)
