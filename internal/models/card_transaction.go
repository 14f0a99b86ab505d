package models

import "time"

// CardTransaction types
const (
	CardTxTypeFund     = "fund"
	CardTxTypeSpend    = "spend"
	CardTxTypeRefund   = "refund"
	CardTxTypeTransfer = "transfer"
)

// CardTransaction statuses
const (
	CardTxStatusPending   = "pending"
	CardTxStatusCompleted = "completed"
	CardTxStatusFailed    = "failed"
)

// CardTransaction is an append-only record of a balance mutation on a card.
// The composite unique index on (card_id, reference) is what makes funding
// idempotent: a second apply of the same funding reference hits the index
// instead of double-crediting.
type CardTransaction struct {
	ID        uint   `gorm:"primarykey"`
	CardID    uint   `gorm:"not null;index;uniqueIndex:idx_card_reference"`
	Type      string `gorm:"not null"`
	Amount    int64  `gorm:"not null"`
	Currency  string `gorm:"default:'GHS'"`
	Reference string `gorm:"not null;uniqueIndex:idx_card_reference"`
	Status    string `gorm:"not null;default:'pending'"`
	Metadata  JSON   `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
