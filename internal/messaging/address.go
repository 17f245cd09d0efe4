package messaging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// DefaultCountryCode is prefixed to national numbers written with a leading 0.
const DefaultCountryCode = "49"

// Length bounds of the digits of a +E.164 number.
const (
	minAddressDigits = 10
	maxAddressDigits = 15
)

// ErrInvalidAddress is returned for numbers that cannot be read as +E.164.
var ErrInvalidAddress = errors.New("invalid phone number")

// CanonicalizeAddress turns a phone number as written by a worker or a
// transport into +E.164. Channel prefixes such as "whatsapp:" are dropped,
// "00" is read as an international prefix and a single leading 0 as a German
// national number.
func CanonicalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", models.ErrEmptyRecipient
	}

	international := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case international:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = DefaultCountryCode + digits[1:]
	}

	if len(digits) < minAddressDigits || len(digits) > maxAddressDigits || digits[0] == '0' {
		return "", fmt.Errorf("%w %q", ErrInvalidAddress, raw)
	}
	return "+" + digits, nil
}
