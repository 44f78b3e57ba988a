// Package verify checks a client's payment envelope against a route's
// requirements, dispatching to one of three strategies by network family:
// local EVM, facilitator-delegated EVM, or SVM.
package verify

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/universalai-xyz/5dee-x402-gateway/eip712"
	"github.com/universalai-xyz/5dee-x402-gateway/evmchain"
	"github.com/universalai-xyz/5dee-x402-gateway/facilitatorclient"
	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/replay"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/svmfacilitator"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// Provider verifies one payment family.
type Provider interface {
	Verify(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.VerificationResult, error)
}

// ChainDialer resolves the (memoized) evmchain.Client for a local-EVM
// network, supplied by the wiring layer since only it holds the settlement
// key and RPC URL references.
type ChainDialer func(ctx context.Context, desc network.Descriptor) (*evmchain.Client, error)

// FacilitatorDialer resolves the (memoized) facilitator client for a
// facilitator-routed network, supplied by the wiring layer since only it can
// resolve the descriptor's urlRef/apiKeyRef config references.
type FacilitatorDialer func(desc network.Descriptor) (*facilitatorclient.Client, error)

// Select returns the Provider for desc, per the registry's precedence:
// facilitator if configured, else local EVM; SVM always uses its own path.
func Select(desc network.Descriptor, dial ChainDialer, dialFacilitator FacilitatorDialer, nonces *replay.Store, svm *svmfacilitator.Facilitator, strictBalance bool) (Provider, error) {
	switch {
	case network.IsSVM(desc):
		if svm == nil {
			return nil, fmt.Errorf("verify: network %s requires an SVM facilitator, none configured", desc.ID)
		}
		return &svmVerifier{facilitator: svm, nonces: nonces}, nil
	case network.UsesExternalFacilitator(desc):
		client, err := dialFacilitator(desc)
		if err != nil {
			return nil, fmt.Errorf("verify: network %s: %w", desc.ID, err)
		}
		return &facilitatorEVMVerifier{client: client}, nil
	default:
		return &localEVMVerifier{dial: dial, nonces: nonces, strictBalance: strictBalance}, nil
	}
}

// localEVMVerifier verifies an EIP-3009 EIP-712 signature locally and reads
// the payer's balance over the network's own RPC endpoint.
type localEVMVerifier struct {
	dial          ChainDialer
	nonces        *replay.Store
	strictBalance bool
}

func (v *localEVMVerifier) Verify(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.VerificationResult, error) {
	payload, err := env.EVMPayload()
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrMalformedHeader, err.Error())
	}
	auth := payload.Authorization

	required, err := network.ScaledAmount(r.PriceAtomic, desc.Token.Decimals)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrAmountMismatch, err.Error())
	}

	parsed, err := eip712.ParseAuthorization(auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrSignatureInvalid, err.Error())
	}

	if parsed.Value.Cmp(required) < 0 {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrAmountMismatch,
			fmt.Sprintf("value %s below required %s", parsed.Value.String(), required.String()))
	}
	if !strings.EqualFold(auth.To, r.PayToEVM) {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrRecipientMismatch,
			fmt.Sprintf("to %s does not match route recipient %s", auth.To, r.PayToEVM))
	}

	now := time.Now().Unix()
	if parsed.ValidAfter.Int64() > 0 && now < parsed.ValidAfter.Int64() {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrOutsideWindow, "authorization not yet valid")
	}
	if parsed.ValidBefore.Int64() > 0 && now > parsed.ValidBefore.Int64() {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrOutsideWindow, "authorization expired")
	}

	if meta, err := v.nonces.Peek(ctx, replay.NonceKeyEVM(auth.Nonce)); err != nil {
		return x402types.VerificationResult{}, fmt.Errorf("verify: nonce peek: %w", err)
	} else if meta != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrNonceInFlight,
			fmt.Sprintf("nonce status %s", meta.Status))
	}

	domain := eip712.Domain{
		Name:              desc.Token.Name,
		Version:           desc.Token.Version,
		ChainID:           big.NewInt(desc.ChainNumeric),
		VerifyingContract: common.HexToAddress(desc.Token.Address),
	}
	digest := eip712.Digest(domain, parsed)
	recovered, err := eip712.RecoverSigner(digest, payload.Signature)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrSignatureInvalid, err.Error())
	}
	if !strings.EqualFold(recovered.Hex(), auth.From) {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrSignatureInvalid, "signature does not recover to authorization.from")
	}

	client, err := v.dial(ctx, desc)
	if err != nil && v.strictBalance {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrInsufficientBalance,
			fmt.Sprintf("balance read failed: %v", err))
	}
	if err == nil && client != nil {
		balance, balErr := client.BalanceOf(ctx, parsed.From)
		if balErr != nil {
			if v.strictBalance {
				return x402types.VerificationResult{}, x402types.NewError(x402types.ErrInsufficientBalance,
					fmt.Sprintf("balance read failed: %v", balErr))
			}
			// Fail-soft: an RPC transport error is treated as "unknown,
			// allow" — settlement itself will fail-safe on insufficient funds.
		} else if balance.Cmp(parsed.Value) < 0 {
			return x402types.VerificationResult{}, x402types.NewError(x402types.ErrInsufficientBalance,
				fmt.Sprintf("balance %s below required %s", balance.String(), parsed.Value.String()))
		}
	}

	return x402types.VerificationResult{Payer: auth.From}, nil
}

// facilitatorEVMVerifier delegates EVM verification to an external
// facilitator service.
type facilitatorEVMVerifier struct {
	client *facilitatorclient.Client
}

func (v *facilitatorEVMVerifier) Verify(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.VerificationResult, error) {
	client := v.client
	amount, err := network.ScaledAmount(r.PriceAtomic, desc.Token.Decimals)
	if err != nil {
		return x402types.VerificationResult{}, err
	}
	reqs := facilitatorRequirements(desc, r, amount)

	resp, err := client.Verify(ctx, env.Payload, reqs)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrFacilitatorRejected, err.Error())
	}
	if !resp.IsValid {
		reason := resp.InvalidReason
		if reason == "" {
			reason = "facilitator rejected payment"
		}
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrFacilitatorRejected, reason)
	}
	return x402types.VerificationResult{Payer: resp.Payer}, nil
}

// svmVerifier delegates to the gateway's own SVM facilitator.
type svmVerifier struct {
	facilitator *svmfacilitator.Facilitator
	nonces      *replay.Store
}

func (v *svmVerifier) Verify(ctx context.Context, env *x402types.PaymentEnvelope, desc network.Descriptor, r route.Descriptor) (x402types.VerificationResult, error) {
	payload, err := env.SVMPayload()
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrMalformedHeader, err.Error())
	}

	_, transfer, err := svmfacilitator.DecodeTransfer(payload.Transaction)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrSignatureInvalid, err.Error())
	}
	if transfer.To.String() != r.PayToSVM {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrRecipientMismatch,
			fmt.Sprintf("to %s does not match route recipient %s", transfer.To.String(), r.PayToSVM))
	}
	required, err := network.ScaledAmount(r.PriceAtomic, desc.Token.Decimals)
	if err != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrAmountMismatch, err.Error())
	}
	if !required.IsInt64() || !svmfacilitator.MeetsAmount(transfer.Lamports, required.Int64()) {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrAmountMismatch,
			fmt.Sprintf("lamports %d below required %s", transfer.Lamports, required.String()))
	}

	nonceKey := replay.NonceKeySVM(payload.Transaction)
	if meta, err := v.nonces.Peek(ctx, nonceKey); err != nil {
		return x402types.VerificationResult{}, fmt.Errorf("verify: nonce peek: %w", err)
	} else if meta != nil {
		return x402types.VerificationResult{}, x402types.NewError(x402types.ErrNonceInFlight,
			fmt.Sprintf("nonce status %s", meta.Status))
	}

	return x402types.VerificationResult{Payer: transfer.From.String()}, nil
}

func facilitatorRequirements(desc network.Descriptor, r route.Descriptor, amount fmt.Stringer) facilitatorclient.Requirements {
	return facilitatorclient.Requirements{
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
}
