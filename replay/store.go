// Package replay layers nonce-replay protection, idempotent-response
// caching, and per-(payer, route) credit counters over the key-value store.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/universalai-xyz/5dee-x402-gateway/kvstore"
	"github.com/universalai-xyz/5dee-x402-gateway/logger"
)

const (
	nonceTTLPending   = 3600 * time.Second
	nonceTTLConfirmed = 604800 * time.Second
	idempotencyTTL    = 3600 * time.Second

	keyPrefixNonce       = "x402:nonce:"
	keyPrefixIdempotency = "x402:idempotency:"
	keyPrefixCredit      = "x402:credit:"
)

// NonceStatus is the lifecycle stage of a reserved nonce.
type NonceStatus string

const (
	NonceStatusPending   NonceStatus = "pending"
	NonceStatusConfirmed NonceStatus = "confirmed"
)

// NonceMeta is the value stored under a nonce key.
type NonceMeta struct {
	Status      NonceStatus `json:"status"`
	Timestamp   int64       `json:"timestamp"`
	Network     string      `json:"network"`
	Payer       string      `json:"payer"`
	Route       string      `json:"route"`
	VM          string      `json:"vm"`
	TxHash      string      `json:"txHash,omitempty"`
	ChainID     string      `json:"chainId,omitempty"`
	BlockNumber *uint64     `json:"blockNumber,omitempty"`
	Facilitator string      `json:"facilitator,omitempty"`
}

// IdempotencyRecord is the value stored under an idempotency key.
type IdempotencyRecord struct {
	Timestamp               int64  `json:"timestamp"`
	CachedReceiptHeader     string `json:"cachedReceiptHeader"`
	CachedSettlementSummary string `json:"cachedSettlementSummary,omitempty"`
	Route                   string `json:"route"`
}

// NonceKeyEVM is the nonce key for an EVM authorization: the authorization
// nonce itself.
func NonceKeyEVM(nonceHex string) string { return nonceHex }

// NonceKeySVM is the nonce key for an SVM partially-signed transaction:
// "svm:" + sha256(transactionBlob), preventing replay of identical partial
// signatures.
func NonceKeySVM(transactionBase64 string) string {
	sum := sha256.Sum256([]byte(transactionBase64))
	return "svm:" + hex.EncodeToString(sum[:])
}

// Store is the replay/idempotency/credit subsystem, built on a kvstore.Store.
type Store struct {
	kv  kvstore.Store
	log logger.Logger
}

// New wraps kv with replay/idempotency/credit semantics.
func New(kv kvstore.Store, log logger.Logger) *Store {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Store{kv: kv, log: log}
}

// Peek reads the current record for nonceKey without reserving it. On a
// store read failure it fails open, returning (nil, nil): the caller treats
// the nonce as unseen and relies on settlement itself to catch duplicates.
func (s *Store) Peek(ctx context.Context, nonceKey string) (*NonceMeta, error) {
	raw, ok, err := s.kv.Get(ctx, keyPrefixNonce+nonceKey)
	if err != nil {
		s.log.Warn("nonce peek failed, treating as absent", map[string]any{"nonce": nonceKey, "error": err.Error()})
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	var meta NonceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("replay: decode nonce record %s: %w", nonceKey, err)
	}
	return &meta, nil
}

// Reserve conditionally sets the pending nonce record, returning true iff
// this caller acquired exclusivity. A store-level failure fails closed
// (returns an error), rejecting the payment.
func (s *Store) Reserve(ctx context.Context, nonceKey string, meta NonceMeta) (bool, error) {
	meta.Status = NonceStatusPending
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("replay: encode nonce record %s: %w", nonceKey, err)
	}
	ok, err := s.kv.SetNX(ctx, keyPrefixNonce+nonceKey, raw, nonceTTLPending)
	if err != nil {
		return false, fmt.Errorf("replay: reserve nonce %s: %w", nonceKey, err)
	}
	return ok, nil
}

// Confirm unconditionally rewrites nonceKey as confirmed with a 7-day TTL.
// A store write failure is logged and also returned; the gateway ignores it,
// since on-chain state is canonical.
func (s *Store) Confirm(ctx context.Context, nonceKey string, meta NonceMeta) error {
	meta.Status = NonceStatusConfirmed
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("replay: encode confirmed nonce record %s: %w", nonceKey, err)
	}
	if err := s.kv.Set(ctx, keyPrefixNonce+nonceKey, raw, nonceTTLConfirmed); err != nil {
		s.log.Warn("nonce confirmation write failed", map[string]any{"nonce": nonceKey, "error": err.Error()})
		return fmt.Errorf("replay: confirm nonce %s: %w", nonceKey, err)
	}
	return nil
}

// Release deletes nonceKey's record, used only when settlement fails so the
// client can retry with a fresh reservation.
func (s *Store) Release(ctx context.Context, nonceKey string) error {
	if err := s.kv.Del(ctx, keyPrefixNonce+nonceKey); err != nil {
		return fmt.Errorf("replay: release nonce %s: %w", nonceKey, err)
	}
	return nil
}

// GetCached returns the prior receipt for paymentId, or nil if none (or on a
// store read failure, which fails open).
func (s *Store) GetCached(ctx context.Context, paymentID string) (*IdempotencyRecord, error) {
	raw, ok, err := s.kv.Get(ctx, keyPrefixIdempotency+paymentID)
	if err != nil {
		s.log.Warn("idempotency read failed, treating as absent", map[string]any{"paymentId": paymentID, "error": err.Error()})
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("replay: decode idempotency record %s: %w", paymentID, err)
	}
	return &rec, nil
}

// Cache writes rec under paymentId with a 1-hour TTL. Callers must only
// invoke this after a successful settlement, per I2.
func (s *Store) Cache(ctx context.Context, paymentID string, rec IdempotencyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("replay: encode idempotency record %s: %w", paymentID, err)
	}
	if err := s.kv.Set(ctx, keyPrefixIdempotency+paymentID, raw, idempotencyTTL); err != nil {
		return fmt.Errorf("replay: cache idempotency record %s: %w", paymentID, err)
	}
	return nil
}

func creditKey(payer, routeKey string) string {
	return keyPrefixCredit + strings.ToLower(payer) + ":" + routeKey
}

// ConsumeCredit atomically decrements the (payer, route) credit counter if
// positive, returning consumed=true iff it did.
func (s *Store) ConsumeCredit(ctx context.Context, payer, routeKey string) (bool, error) {
	consumed, err := s.kv.DecrIfPositive(ctx, creditKey(payer, routeKey))
	if err != nil {
		return false, fmt.Errorf("replay: consume credit %s/%s: %w", payer, routeKey, err)
	}
	return consumed, nil
}

// IssueCredit atomically increments the (payer, route) credit counter unless
// it is already at cap, refreshing its TTL either way.
func (s *Store) IssueCredit(ctx context.Context, payer, routeKey string, cap int64, ttl time.Duration) (int64, error) {
	count, err := s.kv.IncrCapped(ctx, creditKey(payer, routeKey), cap, ttl)
	if err != nil {
		return 0, fmt.Errorf("replay: issue credit %s/%s: %w", payer, routeKey, err)
	}
	return count, nil
}
