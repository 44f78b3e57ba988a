package evmchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenABIPacksBalanceOf(t *testing.T) {
	owner := common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	data, err := tokenABI.Pack("balanceOf", owner)
	require.NoError(t, err)

	// 4-byte selector + one 32-byte padded address argument.
	assert.Len(t, data, 4+32)
}

func TestTokenABIPackUnpackTransferWithAuthorizationRoundTrip(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	var nonce [32]byte
	nonce[0] = 0xAB

	data, err := tokenABI.Pack("transferWithAuthorization",
		from, to, big.NewInt(1_000_000), big.NewInt(0), big.NewInt(9_999_999_999), nonce,
		uint8(27), [32]byte{1}, [32]byte{2})
	require.NoError(t, err)
	assert.Len(t, data, 4+32*9)
}

func TestTokenABIUnpackBalanceOfResult(t *testing.T) {
	encoded, err := tokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(42_000_000))
	require.NoError(t, err)

	out, err := tokenABI.Unpack("balanceOf", encoded)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(42_000_000), out[0])
}
