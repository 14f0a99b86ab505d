package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MobileMoneyConfig configures the momo aggregator connector.
type MobileMoneyConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// MobileMoneyRail collects funds via a mobile-money aggregator API.
type MobileMoneyRail struct {
	cfg    MobileMoneyConfig
	client *http.Client
}

func NewMobileMoneyRail(cfg MobileMoneyConfig) *MobileMoneyRail {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &MobileMoneyRail{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type momoChargeRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Phone     string `json:"phone"`
}

type momoChargeResponse struct {
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type momoStatusResponse struct {
	Status        string `json:"status"` // Pending | Success | Failed
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// RequestPayment pushes an STK charge to the payer's phone and returns the
// aggregator's checkout id.
func (r *MobileMoneyRail) RequestPayment(ctx context.Context, req PaymentRequest) (string, error) {
	body, err := json.Marshal(momoChargeRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Phone:     req.Payer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: charge returned %d", ErrRailUnavailable, resp.StatusCode)
	}

	var out momoChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode charge response: %w", err)
	}
	if out.CheckoutID == "" {
		return "", fmt.Errorf("%w: empty checkout id", ErrRailUnavailable)
	}
	return out.CheckoutID, nil
}

// QueryStatus reads the charge state by checkout id and normalizes the
// aggregator vocabulary to the platform's three wire statuses.
func (r *MobileMoneyRail) QueryStatus(ctx context.Context, railRef string) (StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/charges/"+railRef, nil)
	if err != nil {
		return StatusResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{}, fmt.Errorf("%w: status returned %d", ErrRailUnavailable, resp.StatusCode)
	}

	var out momoStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusResult{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	result := StatusResult{
		Amount:       out.Amount,
		Currency:     out.Currency,
		ExternalTxID: out.TransactionID,
		Reason:       out.Message,
	}
	switch out.Status {
	case "Success", "SUCCESS", StatusSuccessful:
		result.Status = StatusSuccessful
	case "Failed", "Cancelled", StatusFailed:
		result.Status = StatusFailed
	default:
		result.Status = StatusPending
	}
	return result, nil
}
