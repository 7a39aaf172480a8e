// Package contracts embeds the minimal ABIs the pipeline talks to and turns
// calls into transaction intents.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
)

// Uniswap V3 factory lookup
const factoryABI = `[
  {"inputs":[
     {"internalType":"address","name":"tokenA","type":"address"},
     {"internalType":"address","name":"tokenB","type":"address"},
     {"internalType":"uint24","name":"fee","type":"uint24"}],
   "name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

// SwapRouter02 exactInputSingle; unlike SwapRouter v1 the struct has no deadline
const routerABI = `[
  {"inputs":[{"components":[
     {"internalType":"address","name":"tokenIn","type":"address"},
     {"internalType":"address","name":"tokenOut","type":"address"},
     {"internalType":"uint24","name":"fee","type":"uint24"},
     {"internalType":"address","name":"recipient","type":"address"},
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
     {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
   "internalType":"struct IV3SwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],
   "stateMutability":"payable","type":"function"}
]`

// Immutable pool parameters
const poolABI = `[
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"}
]`

const erc20ABI = `[
  {"inputs":[
     {"internalType":"address","name":"spender","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"}],
   "name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// Balancer V1 BPool join
const liquidityPoolABI = `[
  {"inputs":[
     {"internalType":"uint256","name":"poolAmountOut","type":"uint256"},
     {"internalType":"uint256[]","name":"maxAmountsIn","type":"uint256[]"}],
   "name":"joinPool","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Parsed ABIs
var (
	Factory       = mustParse("factory", factoryABI)
	Router        = mustParse("router", routerABI)
	Pool          = mustParse("pool", poolABI)
	ERC20         = mustParse("erc20", erc20ABI)
	LiquidityPool = mustParse("liquidity pool", liquidityPoolABI)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}

// Selector returns the 4-byte method id of method in contract.
func Selector(contract abi.ABI, method string) [4]byte {
	var sel [4]byte
	copy(sel[:], contract.Methods[method].ID)
	return sel
}

// ApproveIntent builds an ERC-20 approve(spender, amount) call.
func ApproveIntent(token, spender common.Address, amount *big.Int) (model.TransactionIntent, error) {
	data, err := ERC20.Pack("approve", spender, amount)
	if err != nil {
		return model.TransactionIntent{}, fmt.Errorf("pack approve: %w", err)
	}
	return model.TransactionIntent{To: token, Method: "approve", Data: data}, nil
}

// exactInputSingleParams matches the router tuple field by field
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactInputSingleIntent builds a single-hop exact-input swap call.
func ExactInputSingleIntent(router common.Address, p model.SwapParameters) (model.TransactionIntent, error) {
	params := exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(p.Fee)),
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  orZero(p.AmountOutMinimum),
		SqrtPriceLimitX96: orZero(p.SqrtPriceLimitX96),
	}
	data, err := Router.Pack("exactInputSingle", params)
	if err != nil {
		return model.TransactionIntent{}, fmt.Errorf("pack exactInputSingle: %w", err)
	}
	return model.TransactionIntent{To: router, Method: "exactInputSingle", Data: data}, nil
}

// JoinPoolIntent builds a joinPool(poolAmountOut, maxAmountsIn) call.
func JoinPoolIntent(pool common.Address, poolAmountOut *big.Int, maxAmountsIn []*big.Int) (model.TransactionIntent, error) {
	data, err := LiquidityPool.Pack("joinPool", poolAmountOut, maxAmountsIn)
	if err != nil {
		return model.TransactionIntent{}, fmt.Errorf("pack joinPool: %w", err)
	}
	return model.TransactionIntent{To: pool, Method: "joinPool", Data: data}, nil
}

// GetPoolCall builds the factory lookup for a token pair and fee tier.
func GetPoolCall(factory, tokenA, tokenB common.Address, fee uint32) (ethereum.CallMsg, error) {
	data, err := Factory.Pack("getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack getPool: %w", err)
	}
	return ethereum.CallMsg{To: &factory, Data: data}, nil
}

// ViewCall builds a call to an argument-less view method.
func ViewCall(contract abi.ABI, to common.Address, method string) (ethereum.CallMsg, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return ethereum.CallMsg{To: &to, Data: data}, nil
}

// UnpackAddress decodes a single address return value.
func UnpackAddress(contract abi.ABI, method string, ret []byte) (common.Address, error) {
	outs, err := contract.Unpack(method, ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outs) == 0 {
		return common.Address{}, fmt.Errorf("decode %s: empty output", method)
	}
	addr, ok := outs[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("decode %s: unexpected type %T", method, outs[0])
	}
	return addr, nil
}

// UnpackUint decodes a single unsigned integer return value of any width.
func UnpackUint(contract abi.ABI, method string, ret []byte) (*big.Int, error) {
	outs, err := contract.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("decode %s: empty output", method)
	}
	switch v := outs[0].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, v)
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
