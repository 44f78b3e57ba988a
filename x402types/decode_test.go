package x402types

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePaymentID(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid min length", "abcdefghijklmnop", false},
		{"valid with separators", "abc-DEF_123-xyz789", false},
		{"too short", "short", true},
		{"empty", "", true},
		{"invalid char", "abcdefghijklmno!", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePaymentID(tc.id)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeChallengeRoundTrip(t *testing.T) {
	body := ChallengeBody{
		X402Version: X402Version,
		Accepts: []PaymentRequirement{
			{Scheme: SchemeExact, Network: "base-sepolia", MaxAmountRequired: "1000"},
		},
	}
	headerB64, err := EncodeChallenge(body)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(headerB64)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "base-sepolia")
}

func TestDecodeHeaderRejectsBadBase64(t *testing.T) {
	_, err := DecodeHeader("not-valid-base64!!!")
	require.Error(t, err)
	xe, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrMalformedHeader, xe.Code)
}

func TestDecodeHeaderRejectsUnsupportedScheme(t *testing.T) {
	env := PaymentEnvelope{X402Version: X402Version, Scheme: "upto", Network: "base"}
	raw, err := EncodeChallengeRaw(env)
	require.NoError(t, err)

	_, err = DecodeHeader(raw)
	require.Error(t, err)
	xe, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrUnsupportedScheme, xe.Code)
}

func TestDecodeHeaderAcceptsExactScheme(t *testing.T) {
	env := PaymentEnvelope{X402Version: X402Version, Scheme: SchemeExact, Network: "base-sepolia"}
	raw, err := EncodeChallengeRaw(env)
	require.NoError(t, err)

	decoded, err := DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "base-sepolia", decoded.Network)
}

func TestEncodeDecodeReceipt(t *testing.T) {
	block := uint64(42)
	r := Receipt{Success: true, TxHash: "0xabc", Network: "base-sepolia", BlockNumber: &block}
	headerB64, err := EncodeReceipt(r)
	require.NoError(t, err)

	decoded, err := DecodeReceipt(headerB64)
	require.NoError(t, err)
	assert.Equal(t, r.TxHash, decoded.TxHash)
	require.NotNil(t, decoded.BlockNumber)
	assert.Equal(t, block, *decoded.BlockNumber)
}

// EncodeChallengeRaw is a small test helper mirroring EncodeChallenge's
// base64(JSON(...)) shape for an arbitrary PaymentEnvelope.
func EncodeChallengeRaw(env PaymentEnvelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
