package verifier

import (
	"errors"
	"time"
)

var (
	ErrPaymentNotSubmitted   = errors.New("payment has not been submitted to a rail")
	ErrVerificationCancelled = errors.New("verification cancelled before a terminal state")
)

// Polling policy defaults. Timeout is a hard ceiling measured from intent
// creation, not from each poll.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 600 * time.Second
)

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// CreateIntentInput carries what is needed to open a funding intent and
// submit it to its rail.
type CreateIntentInput struct {
	Reference string // optional; generated when empty
	OwnerID   uint
	Rail      string
	Amount    int64 // minor units
	Fee       int64
	Currency  string
	Payer     string // momo number or deposit address
}
