package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

func TestCanonicalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+4915112345678", "+4915112345678"},
		{"whatsapp:+4915112345678", "+4915112345678"},
		{"+49 151 1234-5678", "+4915112345678"},
		{"004915112345678", "+4915112345678"},
		{"015112345678", "+4915112345678"},
		{"0151 / 123 456 78", "+4915112345678"},
		{"4915112345678", "+4915112345678"},
		{"+43 664 1234567", "+436641234567"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalizeAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeAddress_Invalid(t *testing.T) {
	_, err := CanonicalizeAddress("   ")
	assert.ErrorIs(t, err, models.ErrEmptyRecipient)

	for _, in := range []string{"12345", "+1234567890123456", "hallo", "000000000000"} {
		_, err := CanonicalizeAddress(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
}
