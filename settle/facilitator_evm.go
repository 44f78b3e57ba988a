package settle

import (
	"context"

	"github.com/universalai-xyz/5dee-x402-gateway/facilitatorclient"
	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// facilitatorEVMSettler delegates settlement to an external facilitator
// service, POSTing the same envelope/requirements shape used for verify.
type facilitatorEVMSettler struct {
	client *facilitatorclient.Client
}

func (s *facilitatorEVMSettler) Settle(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.SettlementResult, error) {
	amount, err := network.ScaledAmount(r.PriceAtomic, desc.Token.Decimals)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}

	reqs := facilitatorclient.Requirements{
		Scheme:            x402types.SchemeExact,
		Network:           desc.Facilitator.ExternalNetworkName,
		MaxAmountRequired: amount.String(),
		PayTo:             desc.Facilitator.ExternalRecipient,
		Asset:             desc.Token.Address,
		Resource:          r.RouteKey,
		Description:       r.Description,
		MimeType:          r.MimeType,
		Amount:            amount.String(),
		Recipient:         desc.Facilitator.ExternalRecipient,
		MaxTimeoutSeconds: 3600,
	}

	resp, err := s.client.Settle(ctx, env.Payload, reqs)
	if err != nil {
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, err.Error())
	}
	if !resp.Success {
		reason := resp.ErrorReason
		if reason == "" {
			reason = "facilitator settlement failed"
		}
		return x402types.SettlementResult{}, x402types.NewError(x402types.ErrSettlementFailed, reason)
	}

	return x402types.SettlementResult{
		TxHash:      resp.Transaction,
		ChainID:     resp.Network,
		Facilitator: s.client.BaseURL(),
	}, nil
}
