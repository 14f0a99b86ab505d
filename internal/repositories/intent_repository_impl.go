package repositories

import (
	"errors"
	"fmt"

	"sika/internal/models"

	"gorm.io/gorm"
)

type fundingIntentRepository struct {
	db *gorm.DB
}

func NewFundingIntentRepository(db *gorm.DB) FundingIntentRepository {
	return &fundingIntentRepository{db: db}
}

func (r *fundingIntentRepository) Create(intent *models.FundingIntent) error {
	if err := r.db.Create(intent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create funding intent: %w", err)
	}
	return nil
}

func (r *fundingIntentRepository) GetByReference(reference string) (*models.FundingIntent, error) {
	var intent models.FundingIntent
	if err := r.db.Where("reference = ?", reference).First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get funding intent: %w", err)
	}
	return &intent, nil
}

func (r *fundingIntentRepository) GetByOwner(ownerID uint, limit, offset int) ([]*models.FundingIntent, error) {
	var intents []*models.FundingIntent
	err := r.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list funding intents: %w", err)
	}
	return intents, nil
}

func (r *fundingIntentRepository) MarkPending(reference, railReference string) error {
	result := r.db.Model(&models.FundingIntent{}).
		Where("reference = ? AND status = ?", reference, models.IntentStatusRequested).
		Updates(map[string]interface{}{
			"status":         models.IntentStatusPending,
			"rail_reference": railReference,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark intent pending: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrTerminal(reference)
	}
	return nil
}

func (r *fundingIntentRepository) Finalize(reference, status, externalTxID, failureReason string) error {
	// Guarding on the non-terminal statuses is what makes transitions
	// monotonic under concurrent pollers: the first finalizer wins, every
	// later attempt affects zero rows.
	result := r.db.Model(&models.FundingIntent{}).
		Where("reference = ? AND status IN ?", reference,
			[]string{models.IntentStatusRequested, models.IntentStatusPending}).
		Updates(map[string]interface{}{
			"status":         status,
			"external_tx_id": externalTxID,
			"failure_reason": failureReason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize intent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrTerminal(reference)
	}
	return nil
}

func (r *fundingIntentRepository) missOrTerminal(reference string) error {
	var count int64
	if err := r.db.Model(&models.FundingIntent{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check intent: %w", err)
	}
	if count == 0 {
		return ErrIntentNotFound
	}
	return ErrIntentTerminal
}
