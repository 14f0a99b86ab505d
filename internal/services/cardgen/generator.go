package cardgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"sika/internal/models"
)

var (
	ErrInvalidCardNumber = errors.New("card number must be exactly 16 digits")
	ErrUnknownBrand      = errors.New("unknown card brand")
)

// BrandHint selects the leading digit of a generated number.
type BrandHint string

const (
	BrandHintVisa       BrandHint = "visa"
	BrandHintMastercard BrandHint = "mastercard"
)

// DefaultExpiryMonths is how far in the future generated cards expire.
const DefaultExpiryMonths = 36

// Generator produces checksum-valid card numbers, CVCs and expiry dates.
// It makes no uniqueness guarantee across cards; the persistence layer's
// constraints are the backstop.
type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// GenerateNumber returns a 16-digit card number whose first digit encodes
// the brand and whose final digit is the Luhn check digit.
func (g *Generator) GenerateNumber(hint BrandHint) (string, error) {
	var lead byte
	switch hint {
	case BrandHintVisa, "":
		lead = '4'
	case BrandHintMastercard:
		lead = '5'
	default:
		return "", ErrUnknownBrand
	}

	digits := make([]byte, 16)
	digits[0] = lead
	for i := 1; i < 15; i++ {
		d, err := randomDigit()
		if err != nil {
			return "", fmt.Errorf("failed to draw card digit: %w", err)
		}
		digits[i] = '0' + d
	}
	digits[15] = '0' + luhnCheckDigit(digits[:15])

	return string(digits), nil
}

// GenerateCVC returns a random 3-digit CVC.
func (g *Generator) GenerateCVC() (string, error) {
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		d, err := randomDigit()
		if err != nil {
			return "", fmt.Errorf("failed to draw cvc digit: %w", err)
		}
		sb.WriteByte('0' + d)
	}
	return sb.String(), nil
}

// GenerateExpiry returns an "MM/YY" expiry monthsAhead from now.
// A non-positive monthsAhead uses the platform default of 36 months.
func (g *Generator) GenerateExpiry(monthsAhead int) string {
	if monthsAhead <= 0 {
		monthsAhead = DefaultExpiryMonths
	}
	t := g.now().AddDate(0, monthsAhead, 0)
	return fmt.Sprintf("%02d/%02d", int(t.Month()), t.Year()%100)
}

// MaskNumber returns the display-safe form of a 16-digit card number.
func MaskNumber(number string) (string, error) {
	if !isDigits(number) || len(number) != 16 {
		return "", ErrInvalidCardNumber
	}
	return "****" + number[12:], nil
}

// BrandFromNumber derives the brand from the leading digit.
func BrandFromNumber(number string) string {
	if len(number) == 0 {
		return ""
	}
	switch number[0] {
	case '4':
		return models.BrandVisa
	case '5':
		return models.BrandMastercard
	}
	return ""
}

// ValidateNumber runs the Luhn mod-10 check over a full card number.
func ValidateNumber(number string) bool {
	if !isDigits(number) || len(number) != 16 {
		return false
	}

	var sum int
	shouldDouble := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if shouldDouble {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		shouldDouble = !shouldDouble
	}
	return sum%10 == 0
}

// luhnCheckDigit computes the digit that makes digits+check pass Luhn.
func luhnCheckDigit(digits []byte) byte {
	var sum int
	// The check digit occupies the rightmost position, so the payload's
	// last digit is the one that gets doubled.
	shouldDouble := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if shouldDouble {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		shouldDouble = !shouldDouble
	}
	return byte((10 - sum%10) % 10)
}

func randomDigit() (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return 0, err
	}
	return byte(n.Int64()), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
