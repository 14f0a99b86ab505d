package repositories

import "sika/internal/models"

// VirtualCardRepository persists issued cards. Cards are soft-deactivated,
// never hard-deleted.
type VirtualCardRepository interface {
	// Create inserts a new card. The unique index on funding_reference is
	// the serialization point for concurrent issuance: the loser gets
	// ErrDuplicateReference and should re-read the winner's card.
	Create(card *models.VirtualCard) error

	GetByID(cardID uint) (*models.VirtualCard, error)
	GetByIDAndOwner(cardID, ownerID uint) (*models.VirtualCard, error)
	GetByFundingReference(reference string) (*models.VirtualCard, error)
	GetByOwner(ownerID uint) ([]*models.VirtualCard, error)

	Update(card *models.VirtualCard) error
	SetActive(cardID uint, active bool) error
}
