package repositories

import (
	"fmt"

	"sika/internal/models"

	"gorm.io/gorm"
)

// CardTransactionRepository reads the append-only transaction log. Writes
// happen inside the ledger's database transactions, not here.
type CardTransactionRepository interface {
	GetByCard(cardID uint, limit, offset int) ([]*models.CardTransaction, error)
}

type cardTransactionRepository struct {
	db *gorm.DB
}

func NewCardTransactionRepository(db *gorm.DB) CardTransactionRepository {
	return &cardTransactionRepository{db: db}
}

func (r *cardTransactionRepository) GetByCard(cardID uint, limit, offset int) ([]*models.CardTransaction, error) {
	var txs []*models.CardTransaction
	err := r.db.Where("card_id = ?", cardID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list card transactions: %w", err)
	}
	return txs, nil
}