package issuance

import (
	"context"
	"errors"

	"sika/internal/models"
	"sika/internal/services/cardgen"
	"sika/internal/services/verifier"
)

var (
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrMirrorFailed        = errors.New("external mirror failed; card deactivated")
	ErrCardNotFound        = errors.New("card not found")
)

// Verifier resolves funding intents to terminal states.
type Verifier interface {
	CreateIntent(ctx context.Context, input verifier.CreateIntentInput) (*models.FundingIntent, error)
	Verify(ctx context.Context, reference string) (*models.FundingIntent, error)
}

// Ledger applies verified funding to card balances.
type Ledger interface {
	ApplyFunding(ctx context.Context, cardID uint, fundingReference string, amount int64) (*models.CardTransaction, error)
}

// Mirror records issued funding on an external ledger. Best effort: a
// failure deactivates the card rather than rolling back issuance.
type Mirror interface {
	Record(ctx context.Context, cardID uint, fundingReference string, amount int64) error
}

// IssueCardInput is a request to issue a new card off a funding event.
type IssueCardInput struct {
	OwnerID       uint
	Amount        int64 // minor units
	Currency      string
	Rail          string
	Reference     string // optional idempotency key; generated when empty
	Payer         string
	BrandHint     cardgen.BrandHint
	SpendingLimit int64  // optional; defaults to the funded amount
	VaultKey      []byte // caller's derived key for encrypting card data
}

// FundCardInput is a request to top up an existing card.
type FundCardInput struct {
	CardID    uint
	OwnerID   uint
	Amount    int64
	Currency  string
	Rail      string
	Reference string
	Payer     string
}

// IssueResult is what a successful (or degraded) issuance returns.
type IssueResult struct {
	Card     models.CardView        `json:"card"`
	Intent   *models.FundingIntent  `json:"intent,omitempty"`
	Degraded bool                   `json:"degraded,omitempty"` // mirror failed, card deactivated
	Existing bool                   `json:"existing,omitempty"` // idempotent replay of a prior issuance
}
