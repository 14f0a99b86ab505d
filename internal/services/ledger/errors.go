package ledger

import "errors"

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrSpendingLimitExceeded = errors.New("spending limit exceeded")
	ErrCardInactive          = errors.New("card is not active")
	ErrDuplicateFunding      = errors.New("funding reference already applied")
	ErrInvalidAmount         = errors.New("amount must be positive")
)
