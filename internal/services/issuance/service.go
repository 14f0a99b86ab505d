// Package issuance coordinates card issuance: amount validation, payment
// verification, card generation and encryption, persistence, and the
// best-effort external mirror. No card exists without a confirmed funding
// event.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log"

	"sika/internal/metrics"
	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/services/cardgen"
	"sika/internal/services/fees"
	"sika/internal/services/ledger"
	"sika/internal/services/vault"
	"sika/internal/services/verifier"
)

type Service struct {
	cards    repositories.VirtualCardRepository
	verifier Verifier
	ledger   Ledger
	fees     *fees.Calculator
	gen      *cardgen.Generator
	mirror   Mirror
}

func NewService(
	cards repositories.VirtualCardRepository,
	v Verifier,
	l Ledger,
	calc *fees.Calculator,
	gen *cardgen.Generator,
	mirror Mirror,
) *Service {
	if cards == nil {
		panic("card repository is required")
	}
	if v == nil {
		panic("verifier is required")
	}
	if l == nil {
		panic("ledger is required")
	}
	if calc == nil {
		calc = fees.NewCalculator(0, 0)
	}
	if gen == nil {
		gen = cardgen.NewGenerator()
	}
	if mirror == nil {
		mirror = NoopMirror{}
	}
	return &Service{cards: cards, verifier: v, ledger: l, fees: calc, gen: gen, mirror: mirror}
}

// IssueCard runs the issuance protocol end to end. Repeating the call with
// the same funding reference returns the already-issued card.
func (s *Service) IssueCard(ctx context.Context, input IssueCardInput) (*IssueResult, error) {
	if err := s.fees.ValidateAmount(input.Amount); err != nil {
		metrics.IssuanceTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	intent, err := s.resolveIntent(ctx, input)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.IntentStatusSuccessful {
		metrics.IssuanceTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: intent %s is %s", ErrPaymentNotConfirmed, intent.Reference, intent.Status)
	}

	// Idempotent issuance: one card per funding reference, ever.
	if existing, err := s.cards.GetByFundingReference(intent.Reference); err == nil {
		metrics.IssuanceTotal.WithLabelValues("duplicate").Inc()
		existing, err = s.ensureFunded(ctx, existing, intent)
		if err != nil {
			return nil, err
		}
		return &IssueResult{Card: existing.View(), Intent: intent, Existing: true}, nil
	} else if !errors.Is(err, repositories.ErrCardNotFound) {
		return nil, err
	}

	card, err := s.buildCard(intent, input)
	if err != nil {
		return nil, err
	}

	if err := s.cards.Create(card); err != nil {
		if errors.Is(err, repositories.ErrDuplicateReference) {
			// Lost the race: another issuance for the same reference
			// committed first. Return the winner's card.
			winner, lookupErr := s.cards.GetByFundingReference(intent.Reference)
			if lookupErr != nil {
				return nil, lookupErr
			}
			metrics.IssuanceTotal.WithLabelValues("duplicate").Inc()
			winner, lookupErr = s.ensureFunded(ctx, winner, intent)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &IssueResult{Card: winner.View(), Intent: intent, Existing: true}, nil
		}
		return nil, err
	}

	// A concurrent replay may already have credited the reference through
	// ensureFunded; the duplicate is fine either way.
	if _, err := s.ledger.ApplyFunding(ctx, card.ID, intent.Reference, intent.Amount); err != nil && !errors.Is(err, ledger.ErrDuplicateFunding) {
		return nil, fmt.Errorf("failed to apply initial funding: %w", err)
	}
	card.Balance = intent.Amount

	if err := s.mirror.Record(ctx, card.ID, intent.Reference, intent.Amount); err != nil {
		// Compensating action, not a rollback: the card stays on file
		// but cannot be used until the mirror is reconciled.
		log.Printf("mirror failed for card %d: %v", card.ID, err)
		if deactErr := s.cards.SetActive(card.ID, false); deactErr != nil {
			log.Printf("failed to deactivate unmirrored card %d: %v", card.ID, deactErr)
		}
		card.IsActive = false
		metrics.IssuanceTotal.WithLabelValues("mirror_failed").Inc()
		return &IssueResult{Card: card.View(), Intent: intent, Degraded: true}, ErrMirrorFailed
	}

	metrics.IssuanceTotal.WithLabelValues("issued").Inc()
	return &IssueResult{Card: card.View(), Intent: intent}, nil
}

// FundCard tops up an existing card off a verified funding event. Applying
// the same reference twice credits once.
func (s *Service) FundCard(ctx context.Context, input FundCardInput) (*models.CardView, error) {
	if err := s.fees.ValidateAmount(input.Amount); err != nil {
		return nil, err
	}

	card, err := s.cards.GetByIDAndOwner(input.CardID, input.OwnerID)
	if err != nil {
		if errors.Is(err, repositories.ErrCardNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}

	quote := s.fees.Calculate(input.Amount)
	intent, err := s.verifier.CreateIntent(ctx, verifier.CreateIntentInput{
		Reference: input.Reference,
		OwnerID:   input.OwnerID,
		Rail:      input.Rail,
		Amount:    input.Amount,
		Fee:       quote.Fee,
		Currency:  input.Currency,
		Payer:     input.Payer,
	})
	if err != nil {
		return nil, err
	}

	intent, err = s.verifier.Verify(ctx, intent.Reference)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.IntentStatusSuccessful {
		return nil, fmt.Errorf("%w: intent %s is %s", ErrPaymentNotConfirmed, intent.Reference, intent.Status)
	}

	// A replayed reference has already been credited; that is idempotent
	// success, not a failure.
	if _, err := s.ledger.ApplyFunding(ctx, card.ID, intent.Reference, intent.Amount); err != nil && !errors.Is(err, ledger.ErrDuplicateFunding) {
		return nil, err
	}

	refreshed, err := s.cards.GetByID(card.ID)
	if err != nil {
		return nil, err
	}
	view := refreshed.View()
	return &view, nil
}

// ensureFunded applies the intent's funding to an already-persisted card.
// The ledger's reference idempotency makes this safe on every replay, and
// it is also what heals a card whose creation committed but whose initial
// credit did not land before a crash.
func (s *Service) ensureFunded(ctx context.Context, card *models.VirtualCard, intent *models.FundingIntent) (*models.VirtualCard, error) {
	if _, err := s.ledger.ApplyFunding(ctx, card.ID, intent.Reference, intent.Amount); err != nil {
		if errors.Is(err, ledger.ErrDuplicateFunding) {
			return card, nil
		}
		return nil, fmt.Errorf("failed to apply funding: %w", err)
	}
	return s.cards.GetByID(card.ID)
}

func (s *Service) resolveIntent(ctx context.Context, input IssueCardInput) (*models.FundingIntent, error) {
	quote := s.fees.Calculate(input.Amount)
	intent, err := s.verifier.CreateIntent(ctx, verifier.CreateIntentInput{
		Reference: input.Reference,
		OwnerID:   input.OwnerID,
		Rail:      input.Rail,
		Amount:    input.Amount,
		Fee:       quote.Fee,
		Currency:  input.Currency,
		Payer:     input.Payer,
	})
	if err != nil {
		return nil, err
	}
	return s.verifier.Verify(ctx, intent.Reference)
}

func (s *Service) buildCard(intent *models.FundingIntent, input IssueCardInput) (*models.VirtualCard, error) {
	number, err := s.gen.GenerateNumber(input.BrandHint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}
	cvc, err := s.gen.GenerateCVC()
	if err != nil {
		return nil, fmt.Errorf("failed to generate cvc: %w", err)
	}
	masked, err := cardgen.MaskNumber(number)
	if err != nil {
		return nil, err
	}

	encryptedNumber, err := vault.Encrypt(input.VaultKey, number)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card number: %w", err)
	}
	encryptedCVC, err := vault.Encrypt(input.VaultKey, cvc)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt cvc: %w", err)
	}

	limit := input.SpendingLimit
	if limit <= 0 {
		limit = intent.Amount
	}

	return &models.VirtualCard{
		OwnerID:          input.OwnerID,
		EncryptedNumber:  encryptedNumber,
		EncryptedCVC:     encryptedCVC,
		MaskedNumber:     masked,
		Expiry:           s.gen.GenerateExpiry(0),
		Brand:            cardgen.BrandFromNumber(number),
		Currency:         intent.Currency,
		SpendingLimit:    limit,
		Balance:          0, // credited by the ledger, never set directly
		IsActive:         true,
		FundingReference: intent.Reference,
	}, nil
}
