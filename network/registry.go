// Package network holds the gateway's static table of supported blockchains
// and the logic to filter it down to the networks actually usable given the
// operator's configuration.
package network

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// Token describes the stablecoin a network settles in.
type Token struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// Facilitator describes an external settlement/verification endpoint for
// networks this gateway does not settle locally.
type Facilitator struct {
	URLRef                  string
	APIKeyRef               string
	ExternalNetworkName     string
	ExternalRecipient       string
	ExternalProtocolVersion int
}

// Descriptor is one entry of the static network table. Immutable for the
// lifetime of the process.
type Descriptor struct {
	ID            string
	VM            x402types.VM
	ChainNumeric  int64 // 0 for non-EVM networks
	RPCURLRef     string
	Token         Token
	Facilitator   *Facilitator
	FeePayerRef   string // SVM only
}

// EnvResolver is the minimal surface the registry needs from configuration to
// decide which networks are active. config.Config implements this.
type EnvResolver interface {
	Lookup(ref string) (string, bool)
	HasSVMFeePayer() bool
}

// Registry holds the static table and answers lookup/active-filter queries.
type Registry struct {
	byID map[string]Descriptor
}

// New builds a Registry from a static table, rejecting any token with fewer
// than 6 decimals per the amount-scaling invariant.
func New(table []Descriptor) (*Registry, error) {
	byID := make(map[string]Descriptor, len(table))
	for _, d := range table {
		if d.Token.Decimals < 6 {
			return nil, fmt.Errorf("network %s: token decimals %d < 6 not supported", d.ID, d.Token.Decimals)
		}
		byID[d.ID] = d
	}
	return &Registry{byID: byID}, nil
}

// Lookup returns the descriptor for a chain identifier.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Active returns the id-indexed view of networks usable given the resolver:
// a network is active only if its RPC endpoint (and, for SVM, its fee-payer
// key) is configured.
func (r *Registry) Active(env EnvResolver) map[string]Descriptor {
	out := make(map[string]Descriptor)
	for id, d := range r.byID {
		if _, ok := env.Lookup(d.RPCURLRef); !ok {
			continue
		}
		if d.VM == x402types.VMSVM && !env.HasSVMFeePayer() {
			continue
		}
		out[id] = d
	}
	return out
}

// IsSVM reports whether a descriptor belongs to the SVM family.
func IsSVM(d Descriptor) bool { return d.VM == x402types.VMSVM }

// UsesExternalFacilitator reports whether verification/settlement for this
// descriptor should be delegated to an external facilitator rather than
// handled locally. SVM always uses its own facilitator path, handled
// separately by callers; this flag is meaningful only for EVM descriptors.
func UsesExternalFacilitator(d Descriptor) bool {
	return d.Facilitator != nil
}

// ScaledAmount converts a route's 6-decimal-unit price into the atomic amount
// required on the wire for a token with d decimals: priceAtomic * 10^(d-6).
// Callers must have already rejected d < 6 at registry construction time.
func ScaledAmount(priceAtomic int64, decimals int) (*big.Int, error) {
	if decimals < 6 {
		return nil, fmt.Errorf("token decimals %d < 6", decimals)
	}
	base := decimal.NewFromInt(priceAtomic)
	if decimals == 6 {
		return base.BigInt(), nil
	}
	factor := decimal.New(1, int32(decimals-6))
	return base.Mul(factor).BigInt(), nil
}
