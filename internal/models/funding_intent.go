package models

import "time"

// Funding rails
const (
	RailMobileMoney = "mobile_money"
	RailCrypto      = "crypto"
)

// FundingIntent statuses
const (
	IntentStatusRequested  = "requested"
	IntentStatusPending    = "pending"
	IntentStatusSuccessful = "successful"
	IntentStatusFailed     = "failed"
	IntentStatusTimedOut   = "timed_out"
)

// FundingIntent tracks a single funding request from creation to its
// confirmed or failed outcome. Rows are never deleted.
type FundingIntent struct {
	ID            uint   `gorm:"primarykey"`
	Reference     string `gorm:"uniqueIndex;not null"`
	OwnerID       uint   `gorm:"not null;index"`
	Rail          string `gorm:"not null"`
	Amount        int64  `gorm:"not null"`
	Fee           int64  `gorm:"default:0"`
	Currency      string `gorm:"default:'GHS'"`
	Status        string `gorm:"not null;default:'requested'"`
	RailReference string // reference assigned by the external rail
	ExternalTxID  string // settlement transaction id reported on success
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the intent can no longer transition.
func (i *FundingIntent) Terminal() bool {
	switch i.Status {
	case IntentStatusSuccessful, IntentStatusFailed, IntentStatusTimedOut:
		return true
	}
	return false
}

// ValidRail reports whether the rail tag is one the platform supports.
func ValidRail(rail string) bool {
	return rail == RailMobileMoney || rail == RailCrypto
}
