package fees

import "errors"

// Amount validation errors
var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrAmountBelowMinimum = errors.New("amount below minimum funding amount")
	ErrAmountAboveMaximum = errors.New("amount exceeds maximum funding amount")
)

// Platform fee rate: 0.02%, expressed as basis points of a percent so the
// math stays in integers. All amounts are minor units (pesewas).
const (
	feeRateNumerator   = 2
	feeRateDenominator = 10000
)

// Default funding bounds in minor units.
const (
	DefaultMinAmount = 10_00
	DefaultMaxAmount = 5000_00
)

// Quote is the result of a fee calculation.
type Quote struct {
	Amount int64 `json:"amount"`
	Fee    int64 `json:"fee"`
	Total  int64 `json:"total"`
}

// Calculator computes the platform fee for funding amounts. It is pure and
// uses integer arithmetic only; no floats touch a monetary value.
type Calculator struct {
	minAmount int64
	maxAmount int64
}

// NewCalculator builds a calculator with the given funding bounds.
// Non-positive bounds fall back to defaults.
func NewCalculator(minAmount, maxAmount int64) *Calculator {
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	if maxAmount <= 0 {
		maxAmount = DefaultMaxAmount
	}
	return &Calculator{minAmount: minAmount, maxAmount: maxAmount}
}

// Calculate returns the fee and total payable for a funding amount.
// Fee is rounded half up to the nearest minor unit.
func (c *Calculator) Calculate(amount int64) Quote {
	fee := (amount*feeRateNumerator + feeRateDenominator/2) / feeRateDenominator
	return Quote{
		Amount: amount,
		Fee:    fee,
		Total:  amount + fee,
	}
}

// ValidateAmount enforces the configured funding bounds.
func (c *Calculator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount < c.minAmount {
		return ErrAmountBelowMinimum
	}
	if amount > c.maxAmount {
		return ErrAmountAboveMaximum
	}
	return nil
}
