// Package ledger applies verified funding and spend events to card
// balances. Every mutation appends a CardTransaction row and updates the
// card inside one database transaction, so readers never observe a partial
// application. Funding is idempotent on (card, reference) through the
// transaction log's unique index.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"sika/internal/metrics"
	"sika/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	if db == nil {
		panic("db is required")
	}
	return &Service{db: db}
}

// ApplyFunding credits a card with a verified funding amount exactly once
// per funding reference. A repeat application returns the original
// transaction row and ErrDuplicateFunding; the balance is untouched.
func (s *Service) ApplyFunding(ctx context.Context, cardID uint, fundingReference string, amount int64) (*models.CardTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var applied models.CardTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.VirtualCard
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&card, cardID).Error; err != nil {
			return fmt.Errorf("failed to lock card: %w", err)
		}

		record := models.CardTransaction{
			CardID:    cardID,
			Type:      models.CardTxTypeFund,
			Amount:    amount,
			Currency:  card.Currency,
			Reference: fundingReference,
			Status:    models.CardTxStatusCompleted,
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateFunding
			}
			return fmt.Errorf("failed to record funding: %w", err)
		}

		card.Balance += amount
		if err := tx.Save(&card).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		applied = record
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateFunding) {
			metrics.LedgerOperationsTotal.WithLabelValues(models.CardTxTypeFund, "duplicate").Inc()
			existing, lookupErr := s.transactionByReference(ctx, cardID, fundingReference)
			if lookupErr != nil {
				return nil, err
			}
			return existing, ErrDuplicateFunding
		}
		metrics.LedgerOperationsTotal.WithLabelValues(models.CardTxTypeFund, "error").Inc()
		return nil, err
	}

	metrics.LedgerOperationsTotal.WithLabelValues(models.CardTxTypeFund, "ok").Inc()
	return &applied, nil
}

// ApplySpend debits a card. A spend exceeding the balance is rejected with
// ErrInsufficientBalance and leaves the balance unchanged.
func (s *Service) ApplySpend(ctx context.Context, cardID uint, amount int64, reference string) (*models.CardTransaction, error) {
	return s.applyDebit(ctx, cardID, amount, reference, models.CardTxTypeSpend)
}

// ApplyTransfer debits a card for an outbound transfer. Same rules as a
// spend, recorded with its own transaction type.
func (s *Service) ApplyTransfer(ctx context.Context, cardID uint, amount int64, reference string) (*models.CardTransaction, error) {
	return s.applyDebit(ctx, cardID, amount, reference, models.CardTxTypeTransfer)
}

func (s *Service) applyDebit(ctx context.Context, cardID uint, amount int64, reference, txType string) (*models.CardTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reference == "" {
		reference = uuid.NewString()
	}

	var applied models.CardTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.VirtualCard
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&card, cardID).Error; err != nil {
			return fmt.Errorf("failed to lock card: %w", err)
		}
		if !card.IsActive {
			return ErrCardInactive
		}
		if amount > card.Balance {
			return ErrInsufficientBalance
		}
		if card.CurrentSpend+amount > card.SpendingLimit {
			return ErrSpendingLimitExceeded
		}

		record := models.CardTransaction{
			CardID:    cardID,
			Type:      txType,
			Amount:    amount,
			Currency:  card.Currency,
			Reference: reference,
			Status:    models.CardTxStatusCompleted,
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateFunding
			}
			return fmt.Errorf("failed to record %s: %w", txType, err)
		}

		card.Balance -= amount
		card.CurrentSpend += amount
		if err := tx.Save(&card).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		applied = record
		return nil
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues(txType, "error").Inc()
		return nil, err
	}

	metrics.LedgerOperationsTotal.WithLabelValues(txType, "ok").Inc()
	return &applied, nil
}

// ApplyRefund returns a previously spent amount to the card.
func (s *Service) ApplyRefund(ctx context.Context, cardID uint, amount int64, reference string) (*models.CardTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reference == "" {
		reference = uuid.NewString()
	}

	var applied models.CardTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.VirtualCard
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&card, cardID).Error; err != nil {
			return fmt.Errorf("failed to lock card: %w", err)
		}

		record := models.CardTransaction{
			CardID:    cardID,
			Type:      models.CardTxTypeRefund,
			Amount:    amount,
			Currency:  card.Currency,
			Reference: reference,
			Status:    models.CardTxStatusCompleted,
		}
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateFunding
			}
			return fmt.Errorf("failed to record refund: %w", err)
		}

		card.Balance += amount
		if card.CurrentSpend > amount {
			card.CurrentSpend -= amount
		} else {
			card.CurrentSpend = 0
		}
		if err := tx.Save(&card).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		applied = record
		return nil
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues(models.CardTxTypeRefund, "error").Inc()
		return nil, err
	}

	metrics.LedgerOperationsTotal.WithLabelValues(models.CardTxTypeRefund, "ok").Inc()
	return &applied, nil
}

// Reconcile recomputes a card's balance from its completed transaction log
// and reports the drift against the stored balance. A healthy card drifts
// by zero.
func (s *Service) Reconcile(ctx context.Context, cardID uint) (int64, error) {
	var card models.VirtualCard
	if err := s.db.WithContext(ctx).First(&card, cardID).Error; err != nil {
		return 0, fmt.Errorf("failed to get card: %w", err)
	}

	var txs []models.CardTransaction
	err := s.db.WithContext(ctx).
		Where("card_id = ? AND status = ?", cardID, models.CardTxStatusCompleted).
		Find(&txs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load transaction log: %w", err)
	}

	var computed int64
	for _, tx := range txs {
		switch tx.Type {
		case models.CardTxTypeFund, models.CardTxTypeRefund:
			computed += tx.Amount
		case models.CardTxTypeSpend, models.CardTxTypeTransfer:
			computed -= tx.Amount
		}
	}
	return card.Balance - computed, nil
}

func (s *Service) transactionByReference(ctx context.Context, cardID uint, reference string) (*models.CardTransaction, error) {
	var tx models.CardTransaction
	err := s.db.WithContext(ctx).
		Where("card_id = ? AND reference = ?", cardID, reference).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
