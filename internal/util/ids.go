package util

import "github.com/google/uuid"

// NewID returns a random identifier of the form "{prefix}{uuid}".
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}
