package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrSessionNotFound       = errors.New("no active wallet session")
	ErrSessionExpired        = errors.New("wallet session expired")
	ErrConnectionFailed      = errors.New("wallet pairing failed")
	ErrConnectionTimeout     = errors.New("wallet pairing timed out")
	ErrBridgeUnavailable     = errors.New("wallet bridge unavailable")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSubmissionFailed      = errors.New("transaction submission failed")
	ErrConfirmationTimeout   = errors.New("confirmation timed out")
	ErrInvalidInput          = errors.New("invalid input")
)
