// Package x402types defines the wire-level data model of the x402 payment
// protocol: payment requirements, the client-supplied payment envelope, and the
// verification/settlement/receipt shapes that flow between the gateway's
// internal components.
package x402types

import (
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version this gateway speaks.
const X402Version = 1

// SchemeExact is the only payment scheme this gateway accepts.
const SchemeExact = "exact"

// VM classifies a network by virtual-machine family.
type VM string

const (
	VMEVM VM = "evm"
	VMSVM VM = "svm"
)

// PaymentRequirement is one entry of a 402 challenge's "accepts" list.
type PaymentRequirement struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType"`
	PayTo             string                 `json:"payTo"`
	Asset             string                 `json:"asset"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentIdentifierExtension advertises idempotent-retry support in a 402 challenge.
type PaymentIdentifierExtension struct {
	Supported bool `json:"supported"`
	Required  bool `json:"required"`
}

// ChallengeBody is the JSON body of a 402 response, and also the payload that
// PAYMENT-REQUIRED decodes to.
type ChallengeBody struct {
	X402Version int                    `json:"x402Version"`
	Accepts     []PaymentRequirement   `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
}

// PaymentEnvelope is the base64-decoded JSON the client sends in the
// Payment-Signature / X-Payment header.
type PaymentEnvelope struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     json.RawMessage        `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// EVMPayload unmarshals Payload as an EVM "exact" scheme payload.
func (e *PaymentEnvelope) EVMPayload() (*EVMPayload, error) {
	var p EVMPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode evm payload: %w", err)
	}
	return &p, nil
}

// SVMPayload unmarshals Payload as an SVM "exact" scheme payload.
func (e *PaymentEnvelope) SVMPayload() (*SVMPayload, error) {
	var p SVMPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode svm payload: %w", err)
	}
	return &p, nil
}

// PaymentID extracts and validates the optional payment-identifier extension.
// It returns ("", false) if the extension is absent, and an error if present
// but malformed.
func (e *PaymentEnvelope) PaymentID() (string, bool, error) {
	if e.Extensions == nil {
		return "", false, nil
	}
	raw, ok := e.Extensions["payment-identifier"]
	if !ok {
		return "", false, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return "", false, fmt.Errorf("extensions.payment-identifier must be an object")
	}
	idRaw, ok := m["paymentId"]
	if !ok {
		return "", false, nil
	}
	id, ok := idRaw.(string)
	if !ok {
		return "", false, fmt.Errorf("extensions.payment-identifier.paymentId must be a string")
	}
	if err := ValidatePaymentID(id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// EVMPayload is the "exact" scheme payload for EVM-family networks: an
// EIP-3009 transferWithAuthorization authorization plus its signature.
type EVMPayload struct {
	Authorization EVMAuthorization `json:"authorization"`
	Signature     string           `json:"signature"`
}

// EVMAuthorization mirrors the EIP-3009 TransferWithAuthorization struct.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SVMPayload is the "exact" scheme payload for SVM-family networks: a
// partially-signed, base64-encoded transaction with the fee-payer slot empty.
type SVMPayload struct {
	Transaction string `json:"transaction"`
}

// VerificationResult is what a verify.Provider returns on success.
type VerificationResult struct {
	Payer string
}

// SettlementResult is what a settle.Provider returns on success.
type SettlementResult struct {
	TxHash      string
	ChainID     string
	BlockNumber *uint64
	Facilitator string
	Payer       string
}

// Receipt is the decoded form of the PAYMENT-RESPONSE header.
type Receipt struct {
	Success     bool    `json:"success"`
	TxHash      string  `json:"txHash,omitempty"`
	Network     string  `json:"network,omitempty"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Facilitator string  `json:"facilitator,omitempty"`
}

// Error is the gateway's single exported error type: a stable machine-readable
// Code plus a human Message and optional structured Data, mirroring the
// teacher's X402Error.
type Error struct {
	Code    string
	Message string
	Data    map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs an *Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error codes, one per row of the gateway's error handling table.
const (
	ErrMalformedHeader     = "malformed_payment_header"
	ErrUnknownNetwork      = "unknown_network"
	ErrUnsupportedScheme   = "unsupported_scheme"
	ErrAmountMismatch      = "amount_mismatch"
	ErrRecipientMismatch   = "recipient_mismatch"
	ErrOutsideWindow       = "outside_validity_window"
	ErrSignatureInvalid    = "signature_invalid"
	ErrNonceInFlight       = "nonce_already_used_or_in_progress"
	ErrFacilitatorRejected = "facilitator_rejected"
	ErrSettlementFailed    = "settlement_failed"
	ErrInsufficientBalance = "insufficient_balance"
	ErrInvalidPaymentID    = "invalid_payment_id"
)
