// Package settle submits a verified payment on-chain (or to an external
// facilitator), mirroring verify's three-way dispatch by network family.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/svmfacilitator"
	"github.com/universalai-xyz/5dee-x402-gateway/verify"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// confirmationPollInterval is how often evmchain.AwaitConfirmation and
// svmfacilitator.CosignAndSubmit poll for finality.
const confirmationPollInterval = 2 * time.Second

// Provider settles one payment family.
type Provider interface {
	Settle(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.SettlementResult, error)
}

// Select returns the Provider for desc, using the same precedence as verify.Select.
func Select(
	desc network.Descriptor,
	dial verify.ChainDialer,
	dialFacilitator verify.FacilitatorDialer,
	svm *svmfacilitator.Facilitator,
	confirmationTimeout time.Duration,
) (Provider, error) {
	switch {
	case network.IsSVM(desc):
		if svm == nil {
			return nil, fmt.Errorf("settle: network %s requires an SVM facilitator, none configured", desc.ID)
		}
		return &svmSettler{facilitator: svm, confirmationTimeout: confirmationTimeout}, nil
	case network.UsesExternalFacilitator(desc):
		client, err := dialFacilitator(desc)
		if err != nil {
			return nil, fmt.Errorf("settle: network %s: %w", desc.ID, err)
		}
		return &facilitatorEVMSettler{client: client}, nil
	default:
		return &localEVMSettler{dial: dial, confirmationTimeout: confirmationTimeout}, nil
	}
}
