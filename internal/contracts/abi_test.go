package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
)

var (
	usdc    = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	link    = common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789")
	router  = common.HexToAddress("0x3bFA4769FB09eefC5a80d6E87c3B9C650f7Ae48E")
	factory = common.HexToAddress("0x0227628f3F023bb0B980b67D528571c95c6DaC1c")
)

func selectorOf(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func TestSelectors(t *testing.T) {
	tests := []struct {
		name      string
		got       [4]byte
		signature string
	}{
		{"approve", Selector(ERC20, "approve"), "approve(address,uint256)"},
		{"getPool", Selector(Factory, "getPool"), "getPool(address,address,uint24)"},
		{"exactInputSingle", Selector(Router, "exactInputSingle"), "exactInputSingle((address,address,uint24,address,uint256,uint256,uint160))"},
		{"joinPool", Selector(LiquidityPool, "joinPool"), "joinPool(uint256,uint256[])"},
		{"fee", Selector(Pool, "fee"), "fee()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, selectorOf(tt.signature), tt.got[:])
		})
	}
}

func TestApproveIntent(t *testing.T) {
	amount := big.NewInt(1_000_000)
	intent, err := ApproveIntent(usdc, router, amount)
	require.NoError(t, err)

	assert.Equal(t, usdc, intent.To)
	assert.Equal(t, "approve", intent.Method)
	assert.Zero(t, intent.GasLimit)

	args, err := ERC20.Methods["approve"].Inputs.Unpack(intent.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, router, args[0])
	assert.Equal(t, 0, amount.Cmp(args[1].(*big.Int)))
}

func TestExactInputSingleIntent_DefaultsToZeroBounds(t *testing.T) {
	intent, err := ExactInputSingleIntent(router, model.SwapParameters{
		TokenIn:   usdc,
		TokenOut:  link,
		Fee:       3000,
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		AmountIn:  big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, router, intent.To)

	// 4-byte selector plus seven static words
	assert.Len(t, intent.Data, 4+7*32)

	words := intent.Data[4:]
	assert.Equal(t, big.NewInt(3000), new(big.Int).SetBytes(words[2*32:3*32]))
	assert.Equal(t, big.NewInt(1_000_000), new(big.Int).SetBytes(words[4*32:5*32]))
	assert.Zero(t, new(big.Int).SetBytes(words[5*32:6*32]).Sign(), "amountOutMinimum should default to zero")
	assert.Zero(t, new(big.Int).SetBytes(words[6*32:7*32]).Sign(), "sqrtPriceLimitX96 should default to zero")
}

func TestJoinPoolIntent(t *testing.T) {
	pool := common.HexToAddress("0x9fC9e94C0DdC148f8D4c47c9b1dD78Fbb5e40F4D")
	amount, _ := new(big.Int).SetString("500000000000000000", 10)

	intent, err := JoinPoolIntent(pool, amount, []*big.Int{amount})
	require.NoError(t, err)
	assert.Equal(t, pool, intent.To)

	args, err := LiquidityPool.Methods["joinPool"].Inputs.Unpack(intent.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, 0, amount.Cmp(args[0].(*big.Int)))
	assert.Len(t, args[1].([]*big.Int), 1)
}

func TestGetPoolCallAndUnpack(t *testing.T) {
	msg, err := GetPoolCall(factory, usdc, link, 3000)
	require.NoError(t, err)
	require.NotNil(t, msg.To)
	assert.Equal(t, factory, *msg.To)

	pool := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	ret, err := Factory.Methods["getPool"].Outputs.Pack(pool)
	require.NoError(t, err)

	got, err := UnpackAddress(Factory, "getPool", ret)
	require.NoError(t, err)
	assert.Equal(t, pool, got)

	_, err = UnpackAddress(Factory, "getPool", []byte{0x01})
	assert.Error(t, err, "Short return data should fail to decode")
}

func TestUnpackUint(t *testing.T) {
	ret, err := Pool.Methods["fee"].Outputs.Pack(big.NewInt(500))
	require.NoError(t, err)

	fee, err := UnpackUint(Pool, "fee", ret)
	require.NoError(t, err)
	assert.Equal(t, int64(500), fee.Int64())

	ret, err = ERC20.Methods["decimals"].Outputs.Pack(uint8(18))
	require.NoError(t, err)

	decimals, err := UnpackUint(ERC20, "decimals", ret)
	require.NoError(t, err)
	assert.Equal(t, int64(18), decimals.Int64())
}
