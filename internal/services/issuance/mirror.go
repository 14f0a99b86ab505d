package issuance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChainMirrorConfig configures the on-chain ledger mirror client.
type ChainMirrorConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ChainMirror posts issuance records to an external on-chain ledger
// service.
type ChainMirror struct {
	cfg    ChainMirrorConfig
	client *http.Client
}

func NewChainMirror(cfg ChainMirrorConfig) *ChainMirror {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ChainMirror{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type mirrorRecord struct {
	CardID           uint   `json:"card_id"`
	FundingReference string `json:"funding_reference"`
	Amount           int64  `json:"amount"`
}

func (m *ChainMirror) Record(ctx context.Context, cardID uint, fundingReference string, amount int64) error {
	body, err := json.Marshal(mirrorRecord{
		CardID:           cardID,
		FundingReference: fundingReference,
		Amount:           amount,
	})
	if err != nil {
		return fmt.Errorf("failed to encode mirror record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v1/records", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopMirror is used when no external ledger is configured.
type NoopMirror struct{}

func (NoopMirror) Record(context.Context, uint, string, int64) error { return nil }
