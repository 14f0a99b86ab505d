package models

import "time"

// Card brands derived from the leading digit of the number.
const (
	BrandVisa       = "Visa"
	BrandMastercard = "Mastercard"
)

// VirtualCard represents an issued virtual card. The full number and CVC
// are stored only as authenticated ciphertext; MaskedNumber is the only
// plaintext trace of the number and is derived once at creation.
type VirtualCard struct {
	ID               uint   `gorm:"primarykey"`
	OwnerID          uint   `gorm:"not null;index"`
	EncryptedNumber  string `gorm:"not null"`
	EncryptedCVC     string `gorm:"not null"`
	MaskedNumber     string `gorm:"not null"`
	Expiry           string `gorm:"not null"` // MM/YY
	Brand            string `gorm:"not null"`
	Currency         string `gorm:"default:'GHS'"`
	SpendingLimit    int64  `gorm:"not null"`
	Balance          int64  `gorm:"not null;default:0"`
	CurrentSpend     int64  `gorm:"not null;default:0"`
	IsActive         bool   `gorm:"default:true"`
	FundingReference string `gorm:"uniqueIndex;not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CardView is the safe projection returned to callers. It never carries
// the full number or CVC.
type CardView struct {
	ID            uint   `json:"id"`
	MaskedNumber  string `json:"masked_number"`
	Expiry        string `json:"expiry"`
	Brand         string `json:"brand"`
	Currency      string `json:"currency"`
	SpendingLimit int64  `json:"spending_limit"`
	Balance       int64  `json:"balance"`
	CurrentSpend  int64  `json:"current_spend"`
	IsActive      bool   `json:"is_active"`
}

// View builds the safe projection for a card.
func (c *VirtualCard) View() CardView {
	return CardView{
		ID:            c.ID,
		MaskedNumber:  c.MaskedNumber,
		Expiry:        c.Expiry,
		Brand:         c.Brand,
		Currency:      c.Currency,
		SpendingLimit: c.SpendingLimit,
		Balance:       c.Balance,
		CurrentSpend:  c.CurrentSpend,
		IsActive:      c.IsActive,
	}
}

// RevealedCard is the authorized projection containing decrypted card data.
// It is built on demand and never persisted.
type RevealedCard struct {
	ID     uint   `json:"id"`
	Number string `json:"number"`
	CVC    string `json:"cvc"`
	Expiry string `json:"expiry"`
	Brand  string `json:"brand"`
}
