package rail

import (
	"context"

	"github.com/google/uuid"
)

// StaticRail simulates a rail that settles everything immediately. Used in
// development mode and as a default when no aggregator is configured.
type StaticRail struct{}

// RequestPayment approves the request with a synthetic reference.
func (StaticRail) RequestPayment(_ context.Context, _ PaymentRequest) (string, error) {
	return uuid.NewString(), nil
}

// QueryStatus reports immediate settlement.
func (StaticRail) QueryStatus(_ context.Context, _ string) (StatusResult, error) {
	return StatusResult{Status: StatusSuccessful, ExternalTxID: uuid.NewString()}, nil
}
