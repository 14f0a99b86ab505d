package repositories

import (
	"errors"
	"fmt"

	"sika/internal/models"

	"gorm.io/gorm"
)

type virtualCardRepository struct {
	db *gorm.DB
}

func NewVirtualCardRepository(db *gorm.DB) VirtualCardRepository {
	return &virtualCardRepository{db: db}
}

func (r *virtualCardRepository) Create(card *models.VirtualCard) error {
	if err := r.db.Create(card).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

func (r *virtualCardRepository) GetByID(cardID uint) (*models.VirtualCard, error) {
	var card models.VirtualCard
	if err := r.db.First(&card, cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (r *virtualCardRepository) GetByIDAndOwner(cardID, ownerID uint) (*models.VirtualCard, error) {
	var card models.VirtualCard
	err := r.db.Where("id = ? AND owner_id = ?", cardID, ownerID).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (r *virtualCardRepository) GetByFundingReference(reference string) (*models.VirtualCard, error) {
	var card models.VirtualCard
	err := r.db.Where("funding_reference = ?", reference).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card by funding reference: %w", err)
	}
	return &card, nil
}

func (r *virtualCardRepository) GetByOwner(ownerID uint) ([]*models.VirtualCard, error) {
	var cards []*models.VirtualCard
	if err := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

func (r *virtualCardRepository) Update(card *models.VirtualCard) error {
	return r.db.Save(card).Error
}

func (r *virtualCardRepository) SetActive(cardID uint, active bool) error {
	result := r.db.Model(&models.VirtualCard{}).Where("id = ?", cardID).Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}
