// Package challenge builds the 402 Payment Required response: the list of
// payment terms a client may satisfy, and its base64-encoded wire form.
package challenge

import (
	"fmt"

	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// Build assembles the 402 challenge for route, scoped to the networks active
// in the registry, with resource set to the request's public URL. svmFeePayer
// is the gateway's resolved SVM fee-payer base58 public key (empty if no SVM
// facilitator is configured), the account a client must leave as the empty
// signer slot in its partially-signed transaction.
func Build(reg *network.Registry, active map[string]network.Descriptor, r route.Descriptor, resource, svmFeePayer string) (string, x402types.ChallengeBody, error) {
	body := x402types.ChallengeBody{
		X402Version: x402types.X402Version,
		Extensions: map[string]interface{}{
			"payment-identifier": x402types.PaymentIdentifierExtension{Supported: true, Required: false},
		},
	}

	for id, desc := range active {
		payTo, extra, ok := recipientAndExtra(desc, r, svmFeePayer)
		if !ok {
			continue
		}

		amount, err := network.ScaledAmount(r.PriceAtomic, desc.Token.Decimals)
		if err != nil {
			return "", x402types.ChallengeBody{}, fmt.Errorf("challenge: network %s: %w", id, err)
		}

		body.Accepts = append(body.Accepts, x402types.PaymentRequirement{
			Scheme:            x402types.SchemeExact,
			Network:           id,
			MaxAmountRequired: amount.String(),
			Resource:          resource,
			Description:       r.Description,
			MimeType:          r.MimeType,
			PayTo:             payTo,
			Asset:             desc.Token.Address,
			MaxTimeoutSeconds: 3600,
			Extra:             extra,
		})
	}

	headerB64, err := x402types.EncodeChallenge(body)
	if err != nil {
		return "", x402types.ChallengeBody{}, fmt.Errorf("challenge: encode: %w", err)
	}
	return headerB64, body, nil
}

// recipientAndExtra resolves the recipient precedence and per-family
// extra hints. ok is false when the route has no recipient configured for
// this descriptor's family, meaning the accept entry must be omitted.
func recipientAndExtra(desc network.Descriptor, r route.Descriptor, svmFeePayer string) (payTo string, extra map[string]interface{}, ok bool) {
	if network.IsSVM(desc) {
		if r.PayToSVM == "" || svmFeePayer == "" {
			return "", nil, false
		}
		extra = map[string]interface{}{"feePayer": svmFeePayer}
		return r.PayToSVM, extra, true
	}

	extra = map[string]interface{}{"name": desc.Token.Name, "version": desc.Token.Version}
	if network.UsesExternalFacilitator(desc) {
		if desc.Facilitator.ExternalRecipient == "" {
			return "", nil, false
		}
		return desc.Facilitator.ExternalRecipient, extra, true
	}
	if r.PayToEVM == "" {
		return "", nil, false
	}
	return r.PayToEVM, extra, true
}
