package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CryptoConfig configures the chain-watcher connector.
type CryptoConfig struct {
	BaseURL       string
	APIKey        string
	Confirmations int // blocks required before a transfer counts as settled
	Timeout       time.Duration
}

// CryptoRail accepts funding via on-chain transfers watched by an external
// chain-watcher service.
type CryptoRail struct {
	cfg    CryptoConfig
	client *http.Client
}

func NewCryptoRail(cfg CryptoConfig) *CryptoRail {
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 6
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &CryptoRail{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type watchRequest struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Address       string `json:"address"`
	Confirmations int    `json:"confirmations"`
}

type watchResponse struct {
	WatchID string `json:"watch_id"`
}

type watchStatusResponse struct {
	State         string `json:"state"` // watching | confirmed | expired | rejected
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
	Reason        string `json:"reason"`
}

// RequestPayment registers a watch for an inbound transfer and returns the
// watcher's id for subsequent polls.
func (r *CryptoRail) RequestPayment(ctx context.Context, req PaymentRequest) (string, error) {
	body, err := json.Marshal(watchRequest{
		Reference:     req.Reference,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Address:       req.Payer,
		Confirmations: r.cfg.Confirmations,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode watch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/watches", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", r.cfg.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: watch returned %d", ErrRailUnavailable, resp.StatusCode)
	}

	var out watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode watch response: %w", err)
	}
	if out.WatchID == "" {
		return "", fmt.Errorf("%w: empty watch id", ErrRailUnavailable)
	}
	return out.WatchID, nil
}

// QueryStatus maps the watcher's states onto the platform vocabulary. A
// transfer is SUCCESSFUL only once confirmed to the configured depth.
func (r *CryptoRail) QueryStatus(ctx context.Context, railRef string) (StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/watches/"+railRef, nil)
	if err != nil {
		return StatusResult{}, err
	}
	httpReq.Header.Set("X-API-Key", r.cfg.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{}, fmt.Errorf("%w: status returned %d", ErrRailUnavailable, resp.StatusCode)
	}

	var out watchStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusResult{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	result := StatusResult{
		Amount:       out.Amount,
		Currency:     out.Currency,
		ExternalTxID: out.TxHash,
		Reason:       out.Reason,
	}
	switch out.State {
	case "confirmed":
		result.Status = StatusSuccessful
	case "expired", "rejected":
		result.Status = StatusFailed
	default:
		result.Status = StatusPending
	}
	return result, nil
}
