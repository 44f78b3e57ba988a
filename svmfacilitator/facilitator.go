// Package svmfacilitator wraps the Solana RPC client this gateway uses to
// verify and settle SVM "exact" scheme payments: decoding the client's
// partially-signed transaction, checking its System Program transfer
// instruction against the route's requirement, co-signing as fee payer, and
// submitting it.
package svmfacilitator

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	binary "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/universalai-xyz/5dee-x402-gateway/logger"
)

// Facilitator is the gateway's own SVM verification/settlement path, used
// for every SVM network whether or not its descriptor names an external
// Facilitator.
type Facilitator struct {
	client   *rpc.Client
	feePayer solana.PrivateKey
	log      logger.Logger
}

// New connects to rpcURL and binds feePayerBase58 as the account that
// co-signs and pays fees for every settlement this facilitator submits.
func New(rpcURL, feePayerBase58 string, log logger.Logger) (*Facilitator, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	key, err := solana.PrivateKeyFromBase58(feePayerBase58)
	if err != nil {
		return nil, fmt.Errorf("svmfacilitator fee payer key: %w", err)
	}
	return &Facilitator{
		client:   rpc.New(rpcURL),
		feePayer: key,
		log:      log,
	}, nil
}

// PublicKey returns the fee payer's base58 public key, the account a client
// must leave as the empty signer slot in its partially-signed transaction.
func (f *Facilitator) PublicKey() string {
	return f.feePayer.PublicKey().String()
}

// TransferInfo is the System Program transfer instruction found inside a
// client-submitted transaction, decoded well enough to check against a
// route's payment requirement.
type TransferInfo struct {
	From    solana.PublicKey
	To      solana.PublicKey
	Lamports uint64
}

// DecodeTransfer decodes txBase64 (the client's partially-signed, base64
// transaction) and returns its first System Program Transfer instruction.
func DecodeTransfer(txBase64 string) (*solana.Transaction, *TransferInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("svmfacilitator: invalid transaction base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("svmfacilitator: decode transaction: %w", err)
	}

	for _, inst := range tx.Message.Instructions {
		prog := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !prog.Equals(solana.SystemProgramID) {
			continue
		}
		metas := make([]*solana.AccountMeta, len(inst.Accounts))
		for i, accIdx := range inst.Accounts {
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				return nil, nil, fmt.Errorf("svmfacilitator: resolve account metas: %w", err)
			}
			metas[i] = &solana.AccountMeta{PublicKey: pub, IsSigner: tx.Message.IsSigner(pub), IsWritable: writable}
		}
		decoded, err := system.DecodeInstruction(metas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*system.Transfer)
		if !ok {
			continue
		}
		return tx, &TransferInfo{
			From:     metas[0].PublicKey,
			To:       metas[1].PublicKey,
			Lamports: *transfer.Lamports,
		}, nil
	}
	return tx, nil, fmt.Errorf("svmfacilitator: no system transfer instruction found")
}

// MeetsAmount reports whether transferred lamports satisfy requiredAtomic,
// an amount already expressed in lamports (the route price scaled to the
// network token's decimals).
func MeetsAmount(lamports uint64, requiredAtomic int64) bool {
	return decimal.NewFromInt(int64(lamports)).GreaterThanOrEqual(decimal.NewFromInt(requiredAtomic))
}

// CosignAndSubmit co-signs tx as fee payer and broadcasts it, then polls for
// finalization up to pollTimeout.
func (f *Facilitator) CosignAndSubmit(ctx context.Context, tx *solana.Transaction, pollInterval, pollTimeout time.Duration) (string, error) {
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(f.feePayer.PublicKey()) {
			return &f.feePayer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("svmfacilitator: cosign tx: %w", err)
	}

	sig, err := f.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("svmfacilitator: broadcast tx: %w", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := f.client.GetSignatureStatuses(pollCtx, false, sig)
		if err == nil && len(status.Value) > 0 && status.Value[0] != nil &&
			status.Value[0].ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			f.log.Info("svm settlement finalized", map[string]any{"signature": sig.String()})
			return sig.String(), nil
		}
		select {
		case <-pollCtx.Done():
			return sig.String(), fmt.Errorf("svmfacilitator: %s not finalized before timeout", sig.String())
		case <-ticker.C:
		}
	}
}

// lazySingleton memoizes the single process-wide Facilitator, since a
// gateway configures at most one SVM RPC endpoint and fee payer.
type lazySingleton struct {
	mu   sync.Mutex
	inst *Facilitator
}

var global lazySingleton

// GetOrInit returns the process-wide Facilitator, building it on first call
// via build. Concurrent callers during the first call block on the same
// construction rather than racing to dial twice.
func GetOrInit(build func() (*Facilitator, error)) (*Facilitator, error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.inst != nil {
		return global.inst, nil
	}
	f, err := build()
	if err != nil {
		return nil, err
	}
	global.inst = f
	return f, nil
}
