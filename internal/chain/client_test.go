package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/swap-liquidity-pipeline/internal/circuitbreaker"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

func newSimulated(t *testing.T) (*backends.SimulatedBackend, *RPCClient, *security.KeySigner) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := security.NewKeySignerFromKey(key)

	alloc := core.GenesisAlloc{
		signer.Address(): {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	t.Cleanup(func() { _ = backend.Close() })

	client := NewSimulatedClient(backend, big.NewInt(1337), Options{
		ReceiptTimeout: 2 * time.Second,
		PollInterval:   20 * time.Millisecond,
	})
	return backend, client, signer
}

func TestRPCClient_SendIntentAndWaitMined(t *testing.T) {
	backend, client, signer := newSimulated(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash, err := client.SendIntent(ctx, model.TransactionIntent{
		To:     recipient,
		Method: "transfer",
		Value:  big.NewInt(1_000),
	}, signer)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)

	backend.Commit()

	outcome, err := client.WaitMined(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, outcome.Hash)
	assert.True(t, outcome.Included, "Transaction should be included after commit")
	assert.True(t, outcome.Success)
	assert.Equal(t, uint64(21000), outcome.GasUsed)

	balance, err := backend.BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), balance.Int64())

	// The gas limit was padded from the 21000 estimate
	tx, _, err := backend.TransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, ScaleGas(21000, 1.2), tx.Gas())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
}

func TestRPCClient_SendIntentKeepsExplicitGasLimit(t *testing.T) {
	backend, client, signer := newSimulated(t)
	ctx := context.Background()

	hash, err := client.SendIntent(ctx, model.TransactionIntent{
		To:       common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		GasLimit: 30000,
	}, signer)
	require.NoError(t, err)
	backend.Commit()

	tx, _, err := backend.TransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), tx.Gas())
}

func TestRPCClient_WaitMinedTimesOut(t *testing.T) {
	_, client, _ := newSimulated(t)
	client.opts.ReceiptTimeout = 100 * time.Millisecond

	unknown := common.HexToHash("0x01")
	outcome, err := client.WaitMined(context.Background(), unknown)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, unknown, outcome.Hash)
	assert.False(t, outcome.Included)
}

func TestRPCClient_WaitMinedCancelled(t *testing.T) {
	_, client, _ := newSimulated(t)
	client.opts.ReceiptTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.WaitMined(ctx, common.HexToHash("0x02"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout, "Cancellation is not a receipt timeout")
}

// unreachableBackend fails every view call as if the node were down
type unreachableBackend struct {
	Backend
	calls int
}

func (b *unreachableBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	b.calls++
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestRPCClient_BreakerFailsFast(t *testing.T) {
	backend := &unreachableBackend{}
	trips := make(chan string, 1)
	client := NewSimulatedClient(backend, big.NewInt(1337), Options{
		BreakerFailures:   2,
		BreakerResetDelay: time.Hour,
		OnBreakerTrip:     func(reason string) { trips <- reason },
	})

	for i := 0; i < 2; i++ {
		_, err := client.CallContract(context.Background(), ethereum.CallMsg{}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	}

	_, err := client.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, backend.calls, "An open circuit should not reach the node")

	select {
	case reason := <-trips:
		assert.Contains(t, reason, "call contract")
	case <-time.After(time.Second):
		t.Fatal("Trip callback was not called")
	}
}

func TestOutcomeFromReceipt(t *testing.T) {
	reverted := OutcomeFromReceipt(&types.Receipt{
		TxHash:      common.HexToHash("0x02"),
		BlockNumber: big.NewInt(10),
		Status:      types.ReceiptStatusFailed,
		GasUsed:     50000,
	})
	assert.True(t, reverted.Included)
	assert.False(t, reverted.Success, "Reverted receipt must not count as success")
	assert.Equal(t, int64(10), reverted.BlockNumber.Int64())
}

func TestScaleGas(t *testing.T) {
	tests := []struct {
		name       string
		estimate   uint64
		multiplier float64
		expected   uint64
	}{
		{"no padding", 21000, 1, 21000},
		{"below one is ignored", 21000, 0.5, 21000},
		{"twenty percent", 100000, 1.2, 120000},
		{"rounds up", 21001, 1.5, 31502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScaleGas(tt.estimate, tt.multiplier))
		})
	}
}

type jsonRPCError struct{}

func (jsonRPCError) Error() string  { return "execution reverted" }
func (jsonRPCError) ErrorCode() int { return 3 }

var _ rpc.Error = jsonRPCError{}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"json-rpc error", fmt.Errorf("call: %w", jsonRPCError{}), false},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"bad gateway", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, true},
		{"bad request", rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, false},
		{"plain error", errors.New("nonce too low"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsUnavailable(tt.err))
		})
	}

	wrapped := classify("call contract", &net.OpError{Op: "dial", Err: errors.New("connection refused")})
	assert.ErrorIs(t, wrapped, ErrUnavailable)
	assert.NotErrorIs(t, classify("send transaction", errors.New("nonce too low")), ErrUnavailable)
}
