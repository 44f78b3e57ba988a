package settle

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/universalai-xyz/5dee-x402-gateway/eip712"
	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/verify"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// localEVMSettler submits transferWithAuthorization on the chain's own RPC
// endpoint, signed by the gateway's settlement key.
type localEVMSettler struct {
	dial                verify.ChainDialer
	confirmationTimeout time.Duration
}

func (s *localEVMSettler) Settle(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.SettlementResult, error) {
	payload, err := env.EVMPayload()
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrMalformedHeader, err.Error())
	}
	auth := payload.Authorization

	parsed, err := eip712.ParseAuthorization(auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSignatureInvalid, err.Error())
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(payload.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSignatureInvalid, "signature must be 65 bytes")
	}

	client, err := s.dial(ctx, desc)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}

	txHash, err := client.SubmitTransferWithAuthorization(ctx, parsed.From, parsed.To, parsed.Value, parsed.ValidAfter, parsed.ValidBefore, parsed.Nonce, sig)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}

	receipt, err := client.AwaitConfirmation(ctx, txHash, confirmationPollInterval, s.confirmationTimeout)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, fmt.Sprintf("awaiting confirmation: %v", err))
	}

	blockNumber := receipt.BlockNumber.Uint64()
	return x402types.SettlementResult{
		TxHash:      txHash,
		ChainID:     desc.ID,
		BlockNumber: &blockNumber,
		Payer:       auth.From,
	}, nil
}
