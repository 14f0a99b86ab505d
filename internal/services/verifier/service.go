// Package verifier owns the funding-intent state machine. An intent moves
// requested -> pending -> {successful, failed, timed_out} and never leaves
// a terminal state; only rail responses or the timeout budget drive
// transitions.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"sika/internal/metrics"
	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/services/rail"

	"github.com/google/uuid"
)

type Service struct {
	intents repositories.FundingIntentRepository
	rails   *rail.Selector
	cfg     Config

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

func NewService(intents repositories.FundingIntentRepository, rails *rail.Selector, cfg Config) *Service {
	if intents == nil {
		panic("intent repository is required")
	}
	if rails == nil {
		panic("rail selector is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		intents:  intents,
		rails:    rails,
		cfg:      cfg,
		inflight: make(map[string]*sync.Mutex),
	}
}

// CreateIntent opens a funding intent and submits the payment request to
// its rail. Reusing an existing reference returns the stored intent
// unchanged, whatever state it is in.
func (s *Service) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.FundingIntent, error) {
	if !models.ValidRail(input.Rail) {
		return nil, rail.ErrUnsupportedRail
	}
	if input.Reference == "" {
		input.Reference = uuid.NewString()
	}

	intent := &models.FundingIntent{
		Reference: input.Reference,
		OwnerID:   input.OwnerID,
		Rail:      input.Rail,
		Amount:    input.Amount,
		Fee:       input.Fee,
		Currency:  input.Currency,
		Status:    models.IntentStatusRequested,
	}
	if err := s.intents.Create(intent); err != nil {
		if errors.Is(err, repositories.ErrDuplicateReference) {
			return s.intents.GetByReference(input.Reference)
		}
		return nil, err
	}

	conn, err := s.rails.Select(input.Rail)
	if err != nil {
		return nil, err
	}
	railRef, err := conn.RequestPayment(ctx, rail.PaymentRequest{
		Reference: input.Reference,
		Amount:    input.Amount,
		Currency:  input.Currency,
		Payer:     input.Payer,
	})
	if err != nil {
		// The intent stays in requested; the caller may resubmit by
		// reference once the rail is reachable again.
		return intent, fmt.Errorf("failed to submit payment request: %w", err)
	}

	if err := s.intents.MarkPending(input.Reference, railRef); err != nil && !errors.Is(err, repositories.ErrIntentTerminal) {
		return nil, err
	}
	return s.intents.GetByReference(input.Reference)
}

// Status reads an intent without driving the state machine.
func (s *Service) Status(reference string) (*models.FundingIntent, error) {
	return s.intents.GetByReference(reference)
}

// Verify drives an intent to a terminal state by polling its rail, and
// returns the terminal intent. Cancelling ctx stops polling without
// transitioning the intent; a later Verify by reference picks up where
// this one left off. Already-terminal intents return immediately.
func (s *Service) Verify(ctx context.Context, reference string) (*models.FundingIntent, error) {
	// One poll cycle per reference at a time. A second caller blocks
	// here and then observes whatever terminal state the first produced.
	lock := s.referenceLock(reference)
	lock.Lock()
	defer lock.Unlock()

	intent, err := s.verifyLocked(ctx, reference)
	if err == nil && intent.Terminal() {
		// Terminal intents never poll again; keeping their lock around
		// would grow the map with every reference ever verified.
		s.releaseLock(reference)
	}
	return intent, err
}

func (s *Service) verifyLocked(ctx context.Context, reference string) (*models.FundingIntent, error) {
	intent, err := s.intents.GetByReference(reference)
	if err != nil {
		return nil, err
	}
	if intent.Terminal() {
		return intent, nil
	}
	if intent.RailReference == "" {
		return intent, ErrPaymentNotSubmitted
	}

	conn, err := s.rails.Select(intent.Rail)
	if err != nil {
		return nil, err
	}

	deadline := intent.CreatedAt.Add(s.cfg.Timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		result, pollErr := s.poll(pollCtx, conn, intent)
		if pollErr == nil {
			switch result.Status {
			case rail.StatusSuccessful:
				return s.finalize(intent, models.IntentStatusSuccessful, result.ExternalTxID, "")
			case rail.StatusFailed:
				return s.finalize(intent, models.IntentStatusFailed, result.ExternalTxID, result.Reason)
			}
			// PENDING: keep polling.
		} else if !errors.Is(pollErr, context.DeadlineExceeded) && !errors.Is(pollErr, context.Canceled) {
			// A failed poll is retried on the next tick; it never
			// transitions the intent.
			log.Printf("poll failed for %s: %v", reference, pollErr)
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if time.Now().After(deadline) {
				return s.finalize(intent, models.IntentStatusTimedOut, "", "polling budget exhausted")
			}
			return intent, ErrVerificationCancelled
		}
	}
}

func (s *Service) poll(ctx context.Context, conn rail.Rail, intent *models.FundingIntent) (rail.StatusResult, error) {
	start := time.Now()
	result, err := conn.QueryStatus(ctx, intent.RailReference)
	metrics.ObservePoll(intent.Rail, time.Since(start))
	return result, err
}

func (s *Service) finalize(intent *models.FundingIntent, status, externalTxID, reason string) (*models.FundingIntent, error) {
	err := s.intents.Finalize(intent.Reference, status, externalTxID, reason)
	if err != nil && !errors.Is(err, repositories.ErrIntentTerminal) {
		return nil, err
	}
	// Re-read so a lost finalize race still reports the true terminal state.
	final, err := s.intents.GetByReference(intent.Reference)
	if err != nil {
		return nil, err
	}
	metrics.FundingIntentsTotal.WithLabelValues(final.Rail, final.Status).Inc()
	return final, nil
}

func (s *Service) referenceLock(reference string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.inflight[reference]
	if !ok {
		lock = &sync.Mutex{}
		s.inflight[reference] = lock
	}
	return lock
}

// releaseLock forgets a reference's lock. Callers still blocked on the old
// mutex hold their own pointer to it, and anything they do afterwards
// only observes the terminal intent.
func (s *Service) releaseLock(reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, reference)
}
