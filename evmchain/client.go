// Package evmchain provides the per-network read/write client the gateway
// uses to check balances, check/settle EIP-3009 authorizations, and await
// confirmation on EVM-family chains it settles locally (as opposed to those
// delegated to an external facilitator).
package evmchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/universalai-xyz/5dee-x402-gateway/logger"
)

// tokenABIJSON covers the three calls this gateway ever makes against an
// EIP-3009 ERC-20: reading a balance, checking whether a nonce has already
// been consumed, and submitting transferWithAuthorization.
const tokenABIJSON = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[
    {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},
    {"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},
    {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}
  ],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var tokenABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic(fmt.Sprintf("evmchain: parse token abi: %v", err))
	}
	tokenABI = parsed
}

// Client is a read/write handle on one EVM network's RPC endpoint, scoped to
// the single ERC-20 token that network's route prices settle in.
type Client struct {
	eth        *ethclient.Client
	token      common.Address
	chainID    *big.Int
	signer     *ecdsa.PrivateKey
	signerAddr common.Address
	log        logger.Logger
}

// Dial connects to rpcURL and binds the client to token, signing outgoing
// settlement transactions with settlementKeyHex.
func Dial(ctx context.Context, rpcURL string, token common.Address, settlementKeyHex string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evmchain dial %s: %w", rpcURL, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evmchain chain id: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(settlementKeyHex, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evmchain settlement key: %w", err)
	}
	return &Client{
		eth:        eth,
		token:      token,
		chainID:    chainID,
		signer:     key,
		signerAddr: crypto.PubkeyToAddress(key.PublicKey),
		log:        log,
	}, nil
}

// ChainID returns the network's chain ID, as confirmed at dial time.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// BalanceOf returns owner's balance of the bound token. Callers that cannot
// tolerate a fail-soft "unknown" outcome on RPC error should treat a non-nil
// error as hard verification failure themselves.
func (c *Client) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// AuthorizationState reports whether nonce has already been consumed by
// authorizer on-chain.
func (c *Client) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	out, err := c.call(ctx, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evmchain pack %s: %w", method, err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evmchain call %s: %w", method, err)
	}
	out, err := tokenABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("evmchain unpack %s: %w", method, err)
	}
	return out, nil
}

// SubmitTransferWithAuthorization broadcasts a signed EIP-3009
// transferWithAuthorization call and returns the resulting transaction hash.
// sig is the 65-byte (r||s||v) signature over the EIP-712 digest.
func (c *Client) SubmitTransferWithAuthorization(
	ctx context.Context,
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	sig []byte,
) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("evmchain: signature must be 65 bytes, got %d", len(sig))
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64]
	if v < 27 {
		v += 27
	}

	data, err := tokenABI.Pack("transferWithAuthorization", from, to, value, validAfter, validBefore, nonce, v, r, s)
	if err != nil {
		return "", fmt.Errorf("evmchain pack transferWithAuthorization: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.signerAddr, To: &c.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("evmchain estimate gas: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("evmchain suggest gas price: %w", err)
	}
	txNonce, err := c.eth.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return "", fmt.Errorf("evmchain pending nonce: %w", err)
	}

	tx := types.NewTransaction(txNonce, c.token, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.signer)
	if err != nil {
		return "", fmt.Errorf("evmchain sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evmchain send tx: %w", err)
	}

	c.log.Info("submitted transferWithAuthorization", map[string]any{
		"tx_hash": signed.Hash().Hex(),
		"token":   c.token.Hex(),
	})
	return signed.Hash().Hex(), nil
}

// AwaitConfirmation polls for txHash's receipt until it is mined, ctx is
// cancelled, or pollTimeout elapses.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string, pollInterval, pollTimeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evmchain await confirmation %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }
