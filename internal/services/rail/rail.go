// Package rail contains connectors to the external funding rails.
// Every rail, whatever its provider speaks natively, is normalized to the
// same request/query capability pair and the same three wire statuses.
package rail

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedRail = errors.New("unsupported funding rail")
	ErrRailUnavailable = errors.New("funding rail unavailable")
)

// Wire statuses reported by a rail for a payment reference.
const (
	StatusPending    = "PENDING"
	StatusSuccessful = "SUCCESSFUL"
	StatusFailed     = "FAILED"
)

// PaymentRequest carries what a rail needs to start collecting funds.
type PaymentRequest struct {
	Reference string // our funding reference, echoed back by the rail
	Amount    int64  // minor units
	Currency  string
	Payer     string // momo number or crypto deposit address hint
}

// StatusResult is a rail's answer to a status query.
type StatusResult struct {
	Status       string // PENDING | SUCCESSFUL | FAILED
	Amount       int64
	Currency     string
	ExternalTxID string
	Reason       string // populated on FAILED where the rail says why
}

// Rail is the capability surface of one external funding channel.
type Rail interface {
	// RequestPayment initiates collection and returns the rail-assigned
	// reference used for subsequent status queries.
	RequestPayment(ctx context.Context, req PaymentRequest) (string, error)
	// QueryStatus looks up the current state of a payment by the
	// rail-assigned reference. A transport error means "ask again", not
	// "failed"; only an explicit StatusResult decides anything.
	QueryStatus(ctx context.Context, railRef string) (StatusResult, error)
}

// Selector resolves the connector for a rail kind tag.
type Selector struct {
	rails map[string]Rail
}

func NewSelector() *Selector {
	return &Selector{rails: make(map[string]Rail)}
}

// Register binds a connector to a rail kind.
func (s *Selector) Register(kind string, r Rail) {
	s.rails[kind] = r
}

// Select returns the connector for a kind, or ErrUnsupportedRail.
func (s *Selector) Select(kind string) (Rail, error) {
	r, ok := s.rails[kind]
	if !ok {
		return nil, ErrUnsupportedRail
	}
	return r, nil
}
