package svmfacilitator

import (
	"encoding/base64"
	"sync"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetsAmount(t *testing.T) {
	assert.True(t, MeetsAmount(1_000_000, 1_000_000))
	assert.True(t, MeetsAmount(2_000_000, 1_000_000))
	assert.False(t, MeetsAmount(999_999, 1_000_000))
}

func buildTransferTx(t *testing.T, from, to solana.PublicKey, lamports uint64) string {
	t.Helper()
	inst := system.NewTransferInstruction(lamports, from, to).Build()

	var blockhash solana.Hash
	tx, err := solana.NewTransaction([]solana.Instruction{inst}, blockhash, solana.TransactionPayer(from))
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeTransferExtractsSystemTransfer(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	txB64 := buildTransferTx(t, from, to, 1_500_000)

	_, info, err := DecodeTransfer(txB64)
	require.NoError(t, err)
	assert.Equal(t, from, info.From)
	assert.Equal(t, to, info.To)
	assert.Equal(t, uint64(1_500_000), info.Lamports)
}

func TestDecodeTransferRejectsBadBase64(t *testing.T) {
	_, _, err := DecodeTransfer("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestGetOrInitMemoizesAcrossConcurrentCallers(t *testing.T) {
	global = lazySingleton{}

	var calls int
	var mu sync.Mutex
	build := func() (*Facilitator, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &Facilitator{}, nil
	}

	var wg sync.WaitGroup
	results := make([]*Facilitator, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			f, err := GetOrInit(build)
			require.NoError(t, err)
			results[idx] = f
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "build must run exactly once across concurrent callers")
	for _, f := range results {
		assert.Same(t, results[0], f)
	}
}
