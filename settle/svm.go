package settle

import (
	"context"
	"time"

	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/svmfacilitator"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// svmSettler co-signs the client's partially-signed transaction as fee payer
// and submits it via the gateway's own SVM facilitator.
type svmSettler struct {
	facilitator         *svmfacilitator.Facilitator
	confirmationTimeout time.Duration
}

func (s *svmSettler) Settle(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.SettlementResult, error) {
	payload, err := env.SVMPayload()
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrMalformedHeader, err.Error())
	}

	tx, transfer, err := svmfacilitator.DecodeTransfer(payload.Transaction)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}

	sig, err := s.facilitator.CosignAndSubmit(ctx, tx, confirmationPollInterval, s.confirmationTimeout)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}

	return x402types.SettlementResult{
		TxHash:  sig,
		ChainID: desc.ID,
		Payer:   transfer.From.String(),
	}, nil
}
