// Package eip712 builds the EIP-712 typed-data digest for EIP-3009
// TransferWithAuthorization messages and recovers the signer of that digest.
package eip712

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 domain of an EIP-3009 token, e.g. USDC's
// {"USD Coin", "2", <chainId>, <token address>}.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Authorization mirrors the on-chain TransferWithAuthorization struct, with
// numeric fields already parsed out of the wire's decimal/hex strings.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferAuthTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// ParseAuthorization converts the wire-format EIP-3009 fields (decimal value
// strings, hex address/nonce strings) into an Authorization, rejecting
// malformed input rather than silently truncating it.
func ParseAuthorization(from, to, value, validAfter, validBefore, nonce string) (Authorization, error) {
	var a Authorization
	if !common.IsHexAddress(from) {
		return a, fmt.Errorf("invalid from address %q", from)
	}
	if !common.IsHexAddress(to) {
		return a, fmt.Errorf("invalid to address %q", to)
	}
	a.From = common.HexToAddress(from)
	a.To = common.HexToAddress(to)

	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return a, fmt.Errorf("invalid value %q", value)
	}
	a.Value = v

	va, ok := new(big.Int).SetString(validAfter, 10)
	if !ok {
		return a, fmt.Errorf("invalid validAfter %q", validAfter)
	}
	a.ValidAfter = va

	vb, ok := new(big.Int).SetString(validBefore, 10)
	if !ok {
		return a, fmt.Errorf("invalid validBefore %q", validBefore)
	}
	a.ValidBefore = vb

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return a, fmt.Errorf("invalid nonce %q", nonce)
	}
	copy(a.Nonce[:], nonceBytes)

	return a, nil
}

func pad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// domainSeparator computes keccak256(abi.encode(domainTypeHash,
// keccak256(name), keccak256(version), chainId, verifyingContract)).
func domainSeparator(d Domain) common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		pad32(d.ChainID.Bytes()),
		addressTo32(d.VerifyingContract),
	)
}

// structHash computes keccak256(abi.encode(transferAuthTypeHash, from, to,
// value, validAfter, validBefore, nonce)).
func structHash(a Authorization) common.Hash {
	return crypto.Keccak256Hash(
		transferAuthTypeHash.Bytes(),
		addressTo32(a.From),
		addressTo32(a.To),
		pad32(a.Value.Bytes()),
		pad32(a.ValidAfter.Bytes()),
		pad32(a.ValidBefore.Bytes()),
		a.Nonce[:],
	)
}

// Digest returns the final EIP-712 digest for a over domain:
// keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(domain Domain, a Authorization) common.Hash {
	ds := domainSeparator(domain)
	sh := structHash(a)
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, ds.Bytes()...), sh.Bytes()...))
}

// RecoverSigner recovers the address that produced sig (65 bytes, r||s||v)
// over digest. v may be given as 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	if s[64] != 0 && s[64] != 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", s[64])
	}

	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
