// Package cards serves card projections and owner-facing card operations.
// It hands out the safe view by default; the decrypted view requires the
// owner's derived vault key and never leaves the request that asked for it.
package cards

import (
	"context"
	"errors"
	"fmt"
	"log"

	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/repositories/cache"
	"sika/internal/services/cardgen"
	"sika/internal/services/vault"
)

var (
	ErrCardNotFound  = errors.New("card not found")
	ErrCorruptedCard = errors.New("card record failed integrity check")
)

// Ledger is the subset of ledger operations the card surface needs.
type Ledger interface {
	ApplySpend(ctx context.Context, cardID uint, amount int64, reference string) (*models.CardTransaction, error)
	ApplyRefund(ctx context.Context, cardID uint, amount int64, reference string) (*models.CardTransaction, error)
	Reconcile(ctx context.Context, cardID uint) (int64, error)
}

type Service struct {
	cards  repositories.VirtualCardRepository
	txs    repositories.CardTransactionRepository
	ledger Ledger
	cache  *cache.CacheService
}

func NewService(
	cards repositories.VirtualCardRepository,
	txs repositories.CardTransactionRepository,
	ledger Ledger,
	cacheService *cache.CacheService,
) *Service {
	if cards == nil {
		panic("card repository is required")
	}
	if ledger == nil {
		panic("ledger is required")
	}
	return &Service{cards: cards, txs: txs, ledger: ledger, cache: cacheService}
}

// GetCard returns the safe view of one of the owner's cards. The cache key
// is owner-scoped, so a hit is already an ownership proof.
func (s *Service) GetCard(ctx context.Context, cardID, ownerID uint) (*models.CardView, error) {
	if s.cache != nil {
		if view, err := s.cache.GetCardView(ctx, ownerID, cardID); err == nil {
			return view, nil
		}
	}

	card, err := s.ownedCard(cardID, ownerID)
	if err != nil {
		return nil, err
	}
	view := card.View()

	if s.cache != nil {
		if err := s.cache.CacheCardView(ctx, ownerID, view); err != nil {
			log.Printf("failed to cache card view %d: %v", cardID, err)
		}
	}
	return &view, nil
}

// ListCards returns safe views for all of an owner's cards.
func (s *Service) ListCards(ctx context.Context, ownerID uint) ([]models.CardView, error) {
	cards, err := s.cards.GetByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]models.CardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, c.View())
	}
	return views, nil
}

// Reveal decrypts the full card number and CVC for the owning identity.
// Decryption failures fail closed; they are never retried or masked.
func (s *Service) Reveal(ctx context.Context, cardID, ownerID uint, key []byte) (*models.RevealedCard, error) {
	card, err := s.ownedCard(cardID, ownerID)
	if err != nil {
		return nil, err
	}

	number, err := vault.Decrypt(key, card.EncryptedNumber)
	if err != nil {
		return nil, err
	}
	cvc, err := vault.Decrypt(key, card.EncryptedCVC)
	if err != nil {
		return nil, err
	}

	// The stored mask must be the last four of the decrypted number and
	// the number must still pass its checksum; anything else means the
	// record was tampered with.
	masked, maskErr := cardgen.MaskNumber(number)
	if maskErr != nil || masked != card.MaskedNumber || !cardgen.ValidateNumber(number) {
		return nil, ErrCorruptedCard
	}

	return &models.RevealedCard{
		ID:     card.ID,
		Number: number,
		CVC:    cvc,
		Expiry: card.Expiry,
		Brand:  card.Brand,
	}, nil
}

// Spend debits the card, rejecting anything over the balance.
func (s *Service) Spend(ctx context.Context, cardID, ownerID uint, amount int64, reference string) (*models.CardView, error) {
	card, err := s.ownedCard(cardID, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.ApplySpend(ctx, card.ID, amount, reference); err != nil {
		return nil, err
	}
	return s.freshView(ctx, card.ID, ownerID)
}

// Refund credits a previously spent amount back onto the card.
func (s *Service) Refund(ctx context.Context, cardID, ownerID uint, amount int64, reference string) (*models.CardView, error) {
	card, err := s.ownedCard(cardID, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.ApplyRefund(ctx, card.ID, amount, reference); err != nil {
		return nil, err
	}
	return s.freshView(ctx, card.ID, ownerID)
}

// Deactivate soft-deletes a card. The record and its transaction log stay.
func (s *Service) Deactivate(ctx context.Context, cardID, ownerID uint) error {
	card, err := s.ownedCard(cardID, ownerID)
	if err != nil {
		return err
	}
	if err := s.cards.SetActive(card.ID, false); err != nil {
		return err
	}
	s.invalidate(ctx, card.ID, ownerID)
	return nil
}

// Transactions lists the card's append-only transaction history.
func (s *Service) Transactions(ctx context.Context, cardID, ownerID uint, limit, offset int) ([]*models.CardTransaction, error) {
	if _, err := s.ownedCard(cardID, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.txs.GetByCard(cardID, limit, offset)
}

// CheckConsistency reports the drift between a card's stored balance and
// its transaction log.
func (s *Service) CheckConsistency(ctx context.Context, cardID, ownerID uint) (int64, error) {
	if _, err := s.ownedCard(cardID, ownerID); err != nil {
		return 0, err
	}
	return s.ledger.Reconcile(ctx, cardID)
}

func (s *Service) ownedCard(cardID, ownerID uint) (*models.VirtualCard, error) {
	card, err := s.cards.GetByIDAndOwner(cardID, ownerID)
	if err != nil {
		if errors.Is(err, repositories.ErrCardNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	return card, nil
}

func (s *Service) freshView(ctx context.Context, cardID, ownerID uint) (*models.CardView, error) {
	s.invalidate(ctx, cardID, ownerID)
	card, err := s.cards.GetByID(cardID)
	if err != nil {
		return nil, err
	}
	view := card.View()
	if s.cache != nil {
		if err := s.cache.CacheCardView(ctx, ownerID, view); err != nil {
			log.Printf("failed to cache card view %d: %v", cardID, err)
		}
	}
	return &view, nil
}

func (s *Service) invalidate(ctx context.Context, cardID, ownerID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCardView(ctx, ownerID, cardID); err != nil {
		log.Printf("failed to invalidate card view %d: %v", cardID, err)
	}
}
