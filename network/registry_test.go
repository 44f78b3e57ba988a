package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

type fakeResolver struct {
	values  map[string]string
	hasSVM  bool
}

func (f fakeResolver) Lookup(ref string) (string, bool) {
	v, ok := f.values[ref]
	return v, ok
}

func (f fakeResolver) HasSVMFeePayer() bool { return f.hasSVM }

func TestNewRejectsLowDecimals(t *testing.T) {
	_, err := New([]Descriptor{
		{ID: "bad-token", Token: Token{Decimals: 2}},
	})
	assert.Error(t, err)
}

func TestNewAcceptsSixOrMoreDecimals(t *testing.T) {
	reg, err := New([]Descriptor{
		{ID: "base-sepolia", Token: Token{Decimals: 6}},
		{ID: "some-18-decimal-chain", Token: Token{Decimals: 18}},
	})
	require.NoError(t, err)
	d, ok := reg.Lookup("base-sepolia")
	require.True(t, ok)
	assert.Equal(t, 6, d.Token.Decimals)
}

func TestRegistryActiveFiltersUnconfiguredNetworks(t *testing.T) {
	reg, err := New([]Descriptor{
		{ID: "base-sepolia", VM: x402types.VMEVM, RPCURLRef: "BASE_RPC", Token: Token{Decimals: 6}},
		{ID: "unconfigured-chain", VM: x402types.VMEVM, RPCURLRef: "MISSING_RPC", Token: Token{Decimals: 6}},
		{ID: "solana-devnet", VM: x402types.VMSVM, RPCURLRef: "SOL_RPC", Token: Token{Decimals: 9}},
	})
	require.NoError(t, err)

	resolver := fakeResolver{values: map[string]string{"BASE_RPC": "https://rpc", "SOL_RPC": "https://sol-rpc"}, hasSVM: false}
	active := reg.Active(resolver)

	_, hasBase := active["base-sepolia"]
	_, hasUnconfigured := active["unconfigured-chain"]
	_, hasSolana := active["solana-devnet"]

	assert.True(t, hasBase)
	assert.False(t, hasUnconfigured, "RPC ref not resolvable should be excluded")
	assert.False(t, hasSolana, "SVM network without a configured fee payer should be excluded")
}

func TestRegistryActiveIncludesSVMWhenFeePayerConfigured(t *testing.T) {
	reg, err := New([]Descriptor{
		{ID: "solana-devnet", VM: x402types.VMSVM, RPCURLRef: "SOL_RPC", Token: Token{Decimals: 9}},
	})
	require.NoError(t, err)

	resolver := fakeResolver{values: map[string]string{"SOL_RPC": "https://sol-rpc"}, hasSVM: true}
	active := reg.Active(resolver)
	_, ok := active["solana-devnet"]
	assert.True(t, ok)
}

func TestIsSVMAndUsesExternalFacilitator(t *testing.T) {
	evmLocal := Descriptor{VM: x402types.VMEVM}
	evmFacilitated := Descriptor{VM: x402types.VMEVM, Facilitator: &Facilitator{URLRef: "FAC_URL"}}
	svm := Descriptor{VM: x402types.VMSVM}

	assert.False(t, IsSVM(evmLocal))
	assert.True(t, IsSVM(svm))
	assert.False(t, UsesExternalFacilitator(evmLocal))
	assert.True(t, UsesExternalFacilitator(evmFacilitated))
}

func TestScaledAmount(t *testing.T) {
	cases := []struct {
		name        string
		priceAtomic int64
		decimals    int
		want        string
		wantErr     bool
	}{
		{"six decimals passthrough", 1_000_000, 6, "1000000", false},
		{"eighteen decimals scales up", 1_000_000, 18, "1000000000000000000", false},
		{"rejects below six decimals", 1_000_000, 5, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ScaledAmount(tc.priceAtomic, tc.decimals)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}
