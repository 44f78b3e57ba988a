package verify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universalai-xyz/5dee-x402-gateway/eip712"
	"github.com/universalai-xyz/5dee-x402-gateway/evmchain"
	"github.com/universalai-xyz/5dee-x402-gateway/facilitatorclient"
	"github.com/universalai-xyz/5dee-x402-gateway/kvstore"
	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/replay"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

func noopDial(ctx context.Context, desc network.Descriptor) (*evmchain.Client, error) {
	return nil, nil
}

func noopFacilitatorDial(desc network.Descriptor) (*facilitatorclient.Client, error) {
	return nil, fmt.Errorf("unused in this test")
}

func TestSelectDispatchesByNetworkFamily(t *testing.T) {
	nonces := replay.New(kvstore.NewMemoryStore(), nil)

	local := network.Descriptor{ID: "base-sepolia", VM: x402types.VMEVM}
	p, err := Select(local, noopDial, noopFacilitatorDial, nonces, nil, false)
	require.NoError(t, err)
	assert.IsType(t, &localEVMVerifier{}, p)

	facilitatorBacked := network.Descriptor{ID: "polygon", VM: x402types.VMEVM, Facilitator: &network.Facilitator{}}
	p, err = Select(facilitatorBacked, noopDial, func(network.Descriptor) (*facilitatorclient.Client, error) {
		return facilitatorclient.New("http://unused", "", 0), nil
	}, nonces, nil, false)
	require.NoError(t, err)
	assert.IsType(t, &facilitatorEVMVerifier{}, p)

	svmDesc := network.Descriptor{ID: "solana-devnet", VM: x402types.VMSVM}
	_, err = Select(svmDesc, noopDial, noopFacilitatorDial, nonces, nil, false)
	assert.Error(t, err, "SVM network without a configured facilitator must fail to select")
}

func signedEnvelope(t *testing.T, priv string, domain eip712.Domain, auth eip712.Authorization) *x402types.PaymentEnvelope {
	t.Helper()
	key, err := crypto.HexToECDSA(priv)
	require.NoError(t, err)

	digest := eip712.Digest(domain, auth)
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27

	payload := x402types.EVMPayload{
		Authorization: x402types.EVMAuthorization{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value.String(),
			ValidAfter:  auth.ValidAfter.String(),
			ValidBefore: auth.ValidBefore.String(),
			Nonce:       "0x" + hex.EncodeToString(auth.Nonce[:]),
		},
		Signature: "0x" + hex.EncodeToString(sig),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &x402types.PaymentEnvelope{X402Version: 1, Scheme: x402types.SchemeExact, Network: "base-sepolia", Payload: raw}
}

func TestLocalEVMVerifierAcceptsValidSignedAuthorization(t *testing.T) {
	const privHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	key, err := crypto.HexToECDSA(privHex)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	desc := network.Descriptor{
		ID: "base-sepolia", VM: x402types.VMEVM, ChainNumeric: 84532,
		Token: network.Token{Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USD Coin", Version: "2", Decimals: 6},
	}
	r := route.Descriptor{RouteKey: "premium-api", PriceAtomic: 1_000_000, PayToEVM: "0x384Aa214be0B279cbf211e9b2C992d8633F77848"}

	domain := eip712.Domain{Name: desc.Token.Name, Version: desc.Token.Version, ChainID: big.NewInt(desc.ChainNumeric), VerifyingContract: common.HexToAddress(desc.Token.Address)}
	var nonce [32]byte
	copy(nonce[:], crypto.Keccak256([]byte("nonce-1")))
	auth := eip712.Authorization{
		From: signer, To: common.HexToAddress(r.PayToEVM),
		Value: big.NewInt(1_000_000), ValidAfter: big.NewInt(0), ValidBefore: big.NewInt(9_999_999_999),
		Nonce: nonce,
	}
	env := signedEnvelope(t, privHex, domain, auth)

	nonces := replay.New(kvstore.NewMemoryStore(), nil)
	v := &localEVMVerifier{dial: noopDial, nonces: nonces, strictBalance: false}

	result, err := v.Verify(context.Background(), env, desc, r)
	require.NoError(t, err)
	assert.Equal(t, signer.Hex(), result.Payer)
}

func TestLocalEVMVerifierRejectsRecipientMismatch(t *testing.T) {
	const privHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	key, err := crypto.HexToECDSA(privHex)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	desc := network.Descriptor{
		ID: "base-sepolia", VM: x402types.VMEVM, ChainNumeric: 84532,
		Token: network.Token{Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USD Coin", Version: "2", Decimals: 6},
	}
	r := route.Descriptor{RouteKey: "premium-api", PriceAtomic: 1_000_000, PayToEVM: "0x384Aa214be0B279cbf211e9b2C992d8633F77848"}

	domain := eip712.Domain{Name: desc.Token.Name, Version: desc.Token.Version, ChainID: big.NewInt(desc.ChainNumeric), VerifyingContract: common.HexToAddress(desc.Token.Address)}
	var nonce [32]byte
	copy(nonce[:], crypto.Keccak256([]byte("nonce-2")))
	auth := eip712.Authorization{
		From: signer, To: common.HexToAddress("0x0000000000000000000000000000000000dEaD"),
		Value: big.NewInt(1_000_000), ValidAfter: big.NewInt(0), ValidBefore: big.NewInt(9_999_999_999),
		Nonce: nonce,
	}
	env := signedEnvelope(t, privHex, domain, auth)

	nonces := replay.New(kvstore.NewMemoryStore(), nil)
	v := &localEVMVerifier{dial: noopDial, nonces: nonces, strictBalance: false}

	_, err = v.Verify(context.Background(), env, desc, r)
	require.Error(t, err)
	xerr, ok := err.(*x402types.Error)
	require.True(t, ok)
	assert.Equal(t, x402types.ErrRecipientMismatch, xerr.Code)
}

func TestFacilitatorEVMVerifierTranslatesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isValid":false,"invalidReason":"bad signature"}`))
	}))
	defer srv.Close()

	desc := network.Descriptor{
		ID: "polygon", VM: x402types.VMEVM,
		Token:       network.Token{Decimals: 6},
		Facilitator: &network.Facilitator{ExternalNetworkName: "polygon", ExternalRecipient: "0xrecipient"},
	}
	r := route.Descriptor{RouteKey: "premium-api", PriceAtomic: 1_000_000}
	env := &x402types.PaymentEnvelope{Payload: json.RawMessage(`{}`)}

	v := &facilitatorEVMVerifier{client: facilitatorclient.New(srv.URL, "", 0)}
	_, err := v.Verify(context.Background(), env, desc, r)
	require.Error(t, err)
	xerr, ok := err.(*x402types.Error)
	require.True(t, ok)
	assert.Equal(t, x402types.ErrFacilitatorRejected, xerr.Code)
	assert.Contains(t, xerr.Message, "bad signature")
}
