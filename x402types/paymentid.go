package x402types

import (
	"strings"

	"github.com/google/uuid"
)

// GeneratePaymentID returns a fresh payment-identifier extension value: prefix
// followed by a UUID v4 with its hyphens stripped, satisfying
// ValidatePaymentID's alphabet and length constraints. gateway.Handle uses it
// to mint a per-request correlation ID for its settlement log lines.
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}
