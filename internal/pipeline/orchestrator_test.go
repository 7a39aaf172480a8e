package pipeline

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/chain/chaintest"
	"github.com/yourorg/swap-liquidity-pipeline/internal/contracts"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/metrics"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
	"github.com/yourorg/swap-liquidity-pipeline/internal/types"
)

var (
	factory = common.HexToAddress("0x0227628f3F023bb0B980b67D528571c95c6DaC1c")
	router  = common.HexToAddress("0x3bFA4769FB09eefC5a80d6E87c3B9C650f7Ae48E")
	bpool   = common.HexToAddress("0x9fC9e94C0DdC148f8D4c47c9b1dD78Fbb5e40F4D")
	amm     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	usdc    = assets.USDCSepolia
	link    = assets.LINKSepolia
)

type fixture struct {
	client *chaintest.Client
	signer security.Signer
	orch   *Orchestrator
	reg    *prometheus.Registry
}

func testConfig() Config {
	return Config{
		PoolFactory:        factory,
		SwapRouter:         router,
		LiquidityPool:      bpool,
		FeeTier:            3000,
		AmountOutMinimum:   decimal.Zero,
		GasLimitMultiplier: 1.2,
		Chain:              types.ChainSepolia,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := security.NewKeySignerFromKey(key)

	registry, err := assets.NewRegistry(usdc, link)
	require.NoError(t, err)

	client := chaintest.New()
	reg := prometheus.NewRegistry()

	orch, err := New(cfg, client, signer, registry, WithMetrics(metrics.New(reg)))
	require.NoError(t, err)
	return &fixture{client: client, signer: signer, orch: orch, reg: reg}
}

func pack(t *testing.T, outputs func() ([]byte, error)) []byte {
	t.Helper()
	ret, err := outputs()
	require.NoError(t, err)
	return ret
}

// scriptPool deploys a USDC/LINK pool at the given fee behind the factory
func scriptPool(t *testing.T, client *chaintest.Client, fee int64) {
	t.Helper()
	addr := func(a common.Address) []byte {
		return pack(t, func() ([]byte, error) { return contracts.Factory.Methods["getPool"].Outputs.Pack(a) })
	}
	client.OnCall(factory, contracts.Selector(contracts.Factory, "getPool"), addr(amm))
	client.OnCall(amm, contracts.Selector(contracts.Pool, "token0"), addr(usdc.Address))
	client.OnCall(amm, contracts.Selector(contracts.Pool, "token1"), addr(link.Address))
	client.OnCall(amm, contracts.Selector(contracts.Pool, "fee"), pack(t, func() ([]byte, error) {
		return contracts.Pool.Methods["fee"].Outputs.Pack(big.NewInt(fee))
	}))
}

func approveArgs(t *testing.T, intent model.TransactionIntent) (common.Address, *big.Int) {
	t.Helper()
	args, err := contracts.ERC20.Methods["approve"].Inputs.Unpack(intent.Data[4:])
	require.NoError(t, err)
	return args[0].(common.Address), args[1].(*big.Int)
}

// swapWord returns the i-th 32-byte word of the exactInputSingle tuple
func swapWord(intent model.TransactionIntent, i int) *big.Int {
	return new(big.Int).SetBytes(intent.Data[4+i*32 : 4+(i+1)*32])
}

func TestRun_ScenarioA_ScalesAmounts(t *testing.T) {
	f := newFixture(t, testConfig())
	scriptPool(t, f.client, 3000)

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, model.StageDone, result.Stage)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"approve", "exactInputSingle", "approve", "joinPool"}, f.client.SentMethods())

	approvals := f.client.SentTo("approve")
	require.Len(t, approvals, 2)

	spender, amount := approveArgs(t, approvals[0])
	assert.Equal(t, usdc.Address, approvals[0].To)
	assert.Equal(t, router, spender)
	assert.Equal(t, "1000000", amount.String(), "1 USDC approval should be 1e6 base units")

	swapTx := f.client.SentTo("exactInputSingle")[0]
	assert.Equal(t, "1000000", swapWord(swapTx, 4).String(), "Swap amountIn should be 1e6 base units")
	assert.Equal(t, int64(3000), swapWord(swapTx, 2).Int64())
	assert.Zero(t, swapWord(swapTx, 5).Sign(), "Default amountOutMinimum should be zero")

	spender, amount = approveArgs(t, approvals[1])
	assert.Equal(t, link.Address, approvals[1].To)
	assert.Equal(t, bpool, spender)
	assert.Equal(t, "500000000000000000", amount.String(), "0.5 LINK approval should be 5e17 base units")

	stages := make([]model.Stage, 0, len(result.Steps))
	for _, step := range result.Steps {
		stages = append(stages, step.Stage)
	}
	assert.Equal(t, []model.Stage{
		model.StageApproveSwapInput,
		model.StageResolvePool,
		model.StageExecuteSwap,
		model.StageApproveLPToken,
		model.StageDepositLiquidity,
	}, stages)
	require.NotNil(t, result.Steps[1].Pool)
	assert.Equal(t, amm, result.Steps[1].Pool.Address)
}

func TestRun_ScenarioB_PoolNotFound(t *testing.T) {
	f := newFixture(t, testConfig())
	f.client.OnCall(factory, contracts.Selector(contracts.Factory, "getPool"), pack(t, func() ([]byte, error) {
		return contracts.Factory.Methods["getPool"].Outputs.Pack(common.Address{})
	}))

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrPoolNotFound)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.StageResolvePool, stageErr.Stage)

	assert.Equal(t, model.StageFailed, result.Stage)
	assert.Equal(t, model.StageResolvePool, result.FailedStage)
	assert.Equal(t, "PoolNotFound", result.FailureKind)
	assert.Equal(t, []string{"approve"}, f.client.SentMethods(), "No swap may be attempted without a pool")
	assert.Empty(t, f.client.Estimated)
	assert.Equal(t, float64(1), f.runCount(t, "failure"))
}

func TestRun_ScenarioC_LPApprovalFailsAfterSwap(t *testing.T) {
	f := newFixture(t, testConfig())
	scriptPool(t, f.client, 3000)
	f.client.Revert(link.Address, contracts.Selector(contracts.ERC20, "approve"))

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrLiquidityApprove)
	assert.NotErrorIs(t, err, failure.ErrLiquidityDeposit)

	assert.Equal(t, model.StageApproveLPToken, result.FailedStage)
	assert.Equal(t, "LiquidityFailure", result.FailureKind)
	assert.Equal(t, "allowance", result.FailurePhase)
	assert.Empty(t, f.client.SentTo("joinPool"), "Deposit must not be attempted")

	// The swap stays confirmed and recorded
	require.Len(t, result.Steps, 4)
	swapStep := result.Steps[2]
	assert.Equal(t, model.StageExecuteSwap, swapStep.Stage)
	require.NotNil(t, swapStep.Outcome)
	assert.True(t, swapStep.Outcome.Success)
	assert.Empty(t, swapStep.Error)
}

func TestRun_SwapEstimationFailureStopsBeforeBroadcast(t *testing.T) {
	f := newFixture(t, testConfig())
	scriptPool(t, f.client, 3000)
	f.client.FailEstimate(router, contracts.Selector(contracts.Router, "exactInputSingle"), errors.New("execution reverted: STF"))

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSwapEstimation)
	assert.Equal(t, model.StageExecuteSwap, result.FailedStage)
	assert.Equal(t, "estimation", result.FailurePhase)
	assert.Equal(t, []string{"approve"}, f.client.SentMethods())
}

func TestRun_FirstApprovalFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	f.client.FailSend(usdc.Address, contracts.Selector(contracts.ERC20, "approve"), errors.New("insufficient funds for gas * price + value"))

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrAllowance)
	assert.Equal(t, model.StageApproveSwapInput, result.FailedStage)
	assert.Empty(t, f.client.SentMethods())
}

func TestRun_DepositTimeoutIsUnresolved(t *testing.T) {
	f := newFixture(t, testConfig())
	scriptPool(t, f.client, 3000)
	f.client.Timeout(bpool, contracts.Selector(contracts.LiquidityPool, "joinPool"))

	result, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrLiquidityDeposit)
	assert.True(t, result.Unresolved, "Timed out deposit leaves its fate unknown")
	assert.Equal(t, model.StageDepositLiquidity, result.FailedStage)
}

func TestRun_AppliesSlippageBound(t *testing.T) {
	cfg := testConfig()
	cfg.AmountOutMinimum = decimal.RequireFromString("2.5")
	cfg.SqrtPriceLimitX96 = big.NewInt(12345)
	f := newFixture(t, cfg)
	scriptPool(t, f.client, 3000)

	_, err := f.orch.Run(context.Background(), decimal.NewFromInt(1), decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	swapTx := f.client.SentTo("exactInputSingle")[0]
	assert.Equal(t, "2500000000000000000", swapWord(swapTx, 5).String(), "Minimum output should be scaled by the output decimals")
	assert.Equal(t, int64(12345), swapWord(swapTx, 6).Int64())
}

func TestRun_RejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t, testConfig())

	result, err := f.orch.Run(context.Background(), decimal.Zero, decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.Equal(t, model.StageStart, result.FailedStage)
	assert.Empty(t, f.client.SentMethods())
}

func TestNew_RequiresAddresses(t *testing.T) {
	registry, err := assets.NewRegistry(usdc, link)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SwapRouter = common.Address{}
	_, err = New(cfg, chaintest.New(), security.NewKeySignerFromKey(key), registry)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.FeeTier = 0
	_, err = New(cfg, chaintest.New(), security.NewKeySignerFromKey(key), registry)
	assert.Error(t, err)
}

// runCount reads pipeline_runs_total for a status from the registry
func (f *fixture) runCount(t *testing.T, status string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "pipeline_runs_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
