package repositories

import "sika/internal/models"

// FundingIntentRepository persists the funding-intent audit trail. Intents
// are never deleted; status moves forward only.
type FundingIntentRepository interface {
	// Create inserts a new intent. A reference collision returns
	// ErrDuplicateReference.
	Create(intent *models.FundingIntent) error

	GetByReference(reference string) (*models.FundingIntent, error)
	GetByOwner(ownerID uint, limit, offset int) ([]*models.FundingIntent, error)

	// MarkPending records the rail-assigned reference and moves
	// requested -> pending. No-op with ErrIntentTerminal if the intent
	// already left the requested state.
	MarkPending(reference, railReference string) error

	// Finalize moves a non-terminal intent into a terminal status. The
	// update is guarded on the current status so a terminal intent can
	// never transition again; such attempts return ErrIntentTerminal.
	Finalize(reference, status, externalTxID, failureReason string) error
}
