package issuance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/services/cardgen"
	"sika/internal/services/fees"
	"sika/internal/services/ledger"
	"sika/internal/services/vault"
	"sika/internal/services/verifier"
)

// fakeCardStore is an in-memory VirtualCardRepository with the same unique
// funding-reference constraint the persistent implementation enforces.
type fakeCardStore struct {
	mu     sync.Mutex
	nextID uint
	cards  map[uint]*models.VirtualCard
	byRef  map[string]uint
}

func newFakeCardStore() *fakeCardStore {
	return &fakeCardStore{cards: make(map[uint]*models.VirtualCard), byRef: make(map[string]uint)}
}

func (s *fakeCardStore) Create(card *models.VirtualCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byRef[card.FundingReference]; exists {
		return repositories.ErrDuplicateReference
	}
	s.nextID++
	card.ID = s.nextID
	stored := *card
	s.cards[card.ID] = &stored
	s.byRef[card.FundingReference] = card.ID
	return nil
}

func (s *fakeCardStore) GetByID(cardID uint) (*models.VirtualCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return nil, repositories.ErrCardNotFound
	}
	copied := *card
	return &copied, nil
}

func (s *fakeCardStore) GetByIDAndOwner(cardID, ownerID uint) (*models.VirtualCard, error) {
	card, err := s.GetByID(cardID)
	if err != nil || card.OwnerID != ownerID {
		return nil, repositories.ErrCardNotFound
	}
	return card, nil
}

func (s *fakeCardStore) GetByFundingReference(reference string) (*models.VirtualCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[reference]
	if !ok {
		return nil, repositories.ErrCardNotFound
	}
	copied := *s.cards[id]
	return &copied, nil
}

func (s *fakeCardStore) GetByOwner(ownerID uint) ([]*models.VirtualCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VirtualCard
	for _, card := range s.cards {
		if card.OwnerID == ownerID {
			copied := *card
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeCardStore) Update(card *models.VirtualCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[card.ID]; !ok {
		return repositories.ErrCardNotFound
	}
	stored := *card
	s.cards[card.ID] = &stored
	return nil
}

func (s *fakeCardStore) SetActive(cardID uint, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return repositories.ErrCardNotFound
	}
	card.IsActive = active
	return nil
}

// stubVerifier resolves every intent to a fixed terminal status.
type stubVerifier struct {
	status string
	fee    int64
}

func (v *stubVerifier) CreateIntent(ctx context.Context, input verifier.CreateIntentInput) (*models.FundingIntent, error) {
	return &models.FundingIntent{
		Reference: input.Reference,
		OwnerID:   input.OwnerID,
		Rail:      input.Rail,
		Amount:    input.Amount,
		Fee:       input.Fee,
		Currency:  input.Currency,
		Status:    models.IntentStatusPending,
	}, nil
}

func (v *stubVerifier) Verify(ctx context.Context, reference string) (*models.FundingIntent, error) {
	return &models.FundingIntent{
		Reference: reference,
		Rail:      models.RailMobileMoney,
		Amount:    100000,
		Fee:       v.fee,
		Currency:  "GHS",
		Status:    v.status,
	}, nil
}

// stubLedger mimics the ledger's reference idempotency: the first apply of
// a reference credits, every repeat returns ErrDuplicateFunding.
type stubLedger struct {
	mu      sync.Mutex
	applied map[string]int
	err     error
}

func newStubLedger() *stubLedger {
	return &stubLedger{applied: make(map[string]int)}
}

func (l *stubLedger) ApplyFunding(ctx context.Context, cardID uint, reference string, amount int64) (*models.CardTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.applied[reference] > 0 {
		return nil, ledger.ErrDuplicateFunding
	}
	l.applied[reference]++
	return &models.CardTransaction{CardID: cardID, Type: models.CardTxTypeFund, Amount: amount, Reference: reference}, nil
}

func (l *stubLedger) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

type mockMirror struct {
	mock.Mock
}

func (m *mockMirror) Record(ctx context.Context, cardID uint, reference string, amount int64) error {
	args := m.Called(ctx, cardID, reference, amount)
	return args.Error(0)
}

func testVaultKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x5a
	}
	return key
}

func issueInput(reference string) IssueCardInput {
	return IssueCardInput{
		OwnerID:   1,
		Amount:    100000,
		Currency:  "GHS",
		Rail:      models.RailMobileMoney,
		Reference: reference,
		Payer:     "233201234567",
		VaultKey:  testVaultKey(),
	}
}

func newIssuanceService(store *fakeCardStore, v Verifier, l Ledger, m Mirror) *Service {
	return NewService(store, v, l, fees.NewCalculator(0, 0), cardgen.NewGenerator(), m)
}

func TestService_IssueCard(t *testing.T) {
	t.Run("confirmed payment issues an encrypted card", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful, fee: 20}, ledger, nil)

		result, err := svc.IssueCard(context.Background(), issueInput("issue-1"))
		assert.NoError(t, err)
		assert.False(t, result.Existing)
		assert.False(t, result.Degraded)
		assert.True(t, result.Card.IsActive)
		assert.Equal(t, int64(100000), result.Card.Balance)
		assert.Equal(t, 1, ledger.applied["issue-1"])

		stored, err := store.GetByFundingReference("issue-1")
		assert.NoError(t, err)

		// Stored card carries only ciphertext; the plaintext round-trips
		// through the vault and passes the checksum.
		number, err := vault.Decrypt(testVaultKey(), stored.EncryptedNumber)
		assert.NoError(t, err)
		assert.True(t, cardgen.ValidateNumber(number))
		masked, err := cardgen.MaskNumber(number)
		assert.NoError(t, err)
		assert.Equal(t, masked, stored.MaskedNumber)
	})

	t.Run("unconfirmed payment issues nothing", func(t *testing.T) {
		for _, status := range []string{models.IntentStatusPending, models.IntentStatusFailed, models.IntentStatusTimedOut} {
			store := newFakeCardStore()
			ledger := newStubLedger()
			svc := newIssuanceService(store, &stubVerifier{status: status}, ledger, nil)

			_, err := svc.IssueCard(context.Background(), issueInput("issue-"+status))
			assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
			assert.Empty(t, store.cards)
			assert.Empty(t, ledger.applied)
		}
	})

	t.Run("amount outside bounds is rejected before any verification", func(t *testing.T) {
		store := newFakeCardStore()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, newStubLedger(), nil)

		input := issueInput("issue-low")
		input.Amount = 1
		_, err := svc.IssueCard(context.Background(), input)
		assert.ErrorIs(t, err, fees.ErrAmountBelowMinimum)
		assert.Empty(t, store.cards)
	})

	t.Run("same funding reference yields the same card", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, ledger, nil)

		first, err := svc.IssueCard(context.Background(), issueInput("issue-same"))
		assert.NoError(t, err)

		second, err := svc.IssueCard(context.Background(), issueInput("issue-same"))
		assert.NoError(t, err)
		assert.True(t, second.Existing)
		assert.Equal(t, first.Card.ID, second.Card.ID)
		assert.Len(t, store.cards, 1)
		assert.Equal(t, 1, ledger.applied["issue-same"])
	})

	t.Run("concurrent issuance for one reference creates one card", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, ledger, nil)

		var wg sync.WaitGroup
		results := make([]*IssueResult, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := svc.IssueCard(context.Background(), issueInput("issue-race"))
				assert.NoError(t, err)
				results[i] = result
			}(i)
		}
		wg.Wait()

		assert.Len(t, store.cards, 1)
		var winner uint
		for _, result := range results {
			if winner == 0 {
				winner = result.Card.ID
			}
			assert.Equal(t, winner, result.Card.ID)
		}
	})

	t.Run("replay heals a card created before its funding landed", func(t *testing.T) {
		store := newFakeCardStore()
		stub := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, stub, nil)

		// First attempt persists the card but dies applying the credit.
		stub.setErr(errors.New("ledger unavailable"))
		_, err := svc.IssueCard(context.Background(), issueInput("issue-heal"))
		assert.Error(t, err)
		assert.Len(t, store.cards, 1)
		assert.Empty(t, stub.applied)

		// The replay must not short-circuit past the missing credit.
		stub.setErr(nil)
		result, err := svc.IssueCard(context.Background(), issueInput("issue-heal"))
		assert.NoError(t, err)
		assert.True(t, result.Existing)
		assert.Equal(t, 1, stub.applied["issue-heal"])

		// And a further replay stays idempotent.
		_, err = svc.IssueCard(context.Background(), issueInput("issue-heal"))
		assert.NoError(t, err)
		assert.Equal(t, 1, stub.applied["issue-heal"])
	})

	t.Run("mirror failure deactivates the card but keeps it on file", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		mirror := new(mockMirror)
		mirror.On("Record", mock.Anything, mock.Anything, "issue-mirror", int64(100000)).
			Return(errors.New("mirror unreachable"))
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, ledger, mirror)

		result, err := svc.IssueCard(context.Background(), issueInput("issue-mirror"))
		assert.ErrorIs(t, err, ErrMirrorFailed)
		assert.True(t, result.Degraded)
		assert.False(t, result.Card.IsActive)

		stored, storeErr := store.GetByFundingReference("issue-mirror")
		assert.NoError(t, storeErr)
		assert.False(t, stored.IsActive)
		// Funding was applied before the mirror ran; the balance survives.
		assert.Equal(t, 1, ledger.applied["issue-mirror"])
		mirror.AssertExpectations(t)
	})

	t.Run("spending limit defaults to the funded amount", func(t *testing.T) {
		store := newFakeCardStore()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, newStubLedger(), nil)

		result, err := svc.IssueCard(context.Background(), issueInput("issue-limit"))
		assert.NoError(t, err)
		assert.Equal(t, int64(100000), result.Card.SpendingLimit)

		input := issueInput("issue-limit-2")
		input.SpendingLimit = 250000
		result, err = svc.IssueCard(context.Background(), input)
		assert.NoError(t, err)
		assert.Equal(t, int64(250000), result.Card.SpendingLimit)
	})

	t.Run("bad vault key aborts before persistence", func(t *testing.T) {
		store := newFakeCardStore()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, newStubLedger(), nil)

		input := issueInput("issue-badkey")
		input.VaultKey = []byte("short")
		_, err := svc.IssueCard(context.Background(), input)
		assert.ErrorIs(t, err, vault.ErrInvalidKey)
		assert.Empty(t, store.cards)
	})
}

func TestService_FundCard(t *testing.T) {
	seed := func(t *testing.T, store *fakeCardStore) *models.VirtualCard {
		t.Helper()
		card := &models.VirtualCard{
			OwnerID:          1,
			MaskedNumber:     "****1111",
			Currency:         "GHS",
			SpendingLimit:    500000,
			IsActive:         true,
			FundingReference: "seed-fund",
		}
		assert.NoError(t, store.Create(card))
		return card
	}

	t.Run("verified top-up credits the card", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, ledger, nil)
		card := seed(t, store)

		view, err := svc.FundCard(context.Background(), FundCardInput{
			CardID: card.ID, OwnerID: 1, Amount: 100000, Rail: models.RailMobileMoney, Reference: "topup-1",
		})
		assert.NoError(t, err)
		assert.Equal(t, card.ID, view.ID)
		assert.Equal(t, 1, ledger.applied["topup-1"])
	})

	t.Run("replaying a top-up reference is idempotent success", func(t *testing.T) {
		store := newFakeCardStore()
		stub := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, stub, nil)
		card := seed(t, store)

		input := FundCardInput{
			CardID: card.ID, OwnerID: 1, Amount: 100000, Rail: models.RailMobileMoney, Reference: "topup-replay",
		}
		_, err := svc.FundCard(context.Background(), input)
		assert.NoError(t, err)

		view, err := svc.FundCard(context.Background(), input)
		assert.NoError(t, err)
		assert.Equal(t, card.ID, view.ID)
		assert.Equal(t, 1, stub.applied["topup-replay"])
	})

	t.Run("unconfirmed top-up applies nothing", func(t *testing.T) {
		store := newFakeCardStore()
		ledger := newStubLedger()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusFailed}, ledger, nil)
		card := seed(t, store)

		_, err := svc.FundCard(context.Background(), FundCardInput{
			CardID: card.ID, OwnerID: 1, Amount: 100000, Rail: models.RailMobileMoney, Reference: "topup-2",
		})
		assert.ErrorIs(t, err, ErrPaymentNotConfirmed)
		assert.Empty(t, ledger.applied)
	})

	t.Run("other owners cannot fund the card", func(t *testing.T) {
		store := newFakeCardStore()
		svc := newIssuanceService(store, &stubVerifier{status: models.IntentStatusSuccessful}, newStubLedger(), nil)
		card := seed(t, store)

		_, err := svc.FundCard(context.Background(), FundCardInput{
			CardID: card.ID, OwnerID: 99, Amount: 100000, Rail: models.RailMobileMoney,
		})
		assert.ErrorIs(t, err, ErrCardNotFound)
	})
}
