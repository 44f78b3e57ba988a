package x402types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

var paymentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ValidatePaymentID checks the payment-identifier extension's alphabet and
// length constraints from the protocol spec.
func ValidatePaymentID(id string) error {
	if !paymentIDPattern.MatchString(id) {
		return NewError(ErrInvalidPaymentID, "paymentId must be 16-128 chars of [A-Za-z0-9_-]")
	}
	return nil
}

// DecodeHeader decodes the base64-encoded JSON carried in the
// Payment-Signature / X-Payment header into a PaymentEnvelope.
func DecodeHeader(headerB64 string) (*PaymentEnvelope, error) {
	raw, err := base64.StdEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, NewError(ErrMalformedHeader, fmt.Sprintf("invalid base64: %v", err))
	}
	var env PaymentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, NewError(ErrMalformedHeader, fmt.Sprintf("invalid json: %v", err))
	}
	if env.Scheme != SchemeExact {
		return nil, NewError(ErrUnsupportedScheme, fmt.Sprintf("unsupported scheme %q", env.Scheme))
	}
	return &env, nil
}

// EncodeChallenge base64-encodes a ChallengeBody using standard (non-URL)
// base64, as the PAYMENT-REQUIRED header requires.
func EncodeChallenge(body ChallengeBody) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeReceipt base64-encodes a Receipt for the PAYMENT-RESPONSE header.
func EncodeReceipt(r Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeReceipt reverses EncodeReceipt.
func DecodeReceipt(headerB64 string) (*Receipt, error) {
	raw, err := base64.StdEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
