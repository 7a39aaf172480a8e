// Package pipeline sequences approval, pool resolution, swap and liquidity
// deposit into one confirmation-gated run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/swap-liquidity-pipeline/internal/allowance"
	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/liquidity"
	"github.com/yourorg/swap-liquidity-pipeline/internal/metrics"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/otel"
	"github.com/yourorg/swap-liquidity-pipeline/internal/pool"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
	"github.com/yourorg/swap-liquidity-pipeline/internal/swap"
	"github.com/yourorg/swap-liquidity-pipeline/internal/types"
)

// Config holds the contracts and swap settings of a run
type Config struct {
	PoolFactory   common.Address
	SwapRouter    common.Address
	LiquidityPool common.Address

	// FeeTier selects the AMM pool
	FeeTier uint32

	// AmountOutMinimum is in units of the output asset. Zero means the swap
	// accepts any output.
	AmountOutMinimum decimal.Decimal

	// SqrtPriceLimitX96 of nil or zero disables the price limit
	SqrtPriceLimitX96 *big.Int

	GasLimitMultiplier float64

	// Chain is used for explorer links only
	Chain types.SupportedChain
}

// StageError reports which stage a run failed in
type StageError struct {
	Stage model.Stage
	Err   error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the component failure
func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator runs the pipeline. It holds no per-run state, but runs sharing
// a signer must not overlap since they race on the account nonce.
type Orchestrator struct {
	cfg      Config
	signer   security.Signer
	registry *assets.Registry

	allowances *allowance.Manager
	pools      *pool.Resolver
	swaps      *swap.Executor
	liquidity  *liquidity.Provisioner

	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records stage and run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New wires the components around client and signer
func New(cfg Config, client chain.Client, signer security.Signer, registry *assets.Registry, opts ...Option) (*Orchestrator, error) {
	if client == nil || signer == nil || registry == nil {
		return nil, errors.New("client, signer and asset registry are required")
	}
	for _, c := range []struct {
		name string
		addr common.Address
	}{
		{"pool factory", cfg.PoolFactory},
		{"swap router", cfg.SwapRouter},
		{"liquidity pool", cfg.LiquidityPool},
	} {
		if c.addr == (common.Address{}) {
			return nil, fmt.Errorf("%s address is not configured", c.name)
		}
	}
	if cfg.FeeTier == 0 {
		return nil, errors.New("fee tier is not configured")
	}
	if cfg.AmountOutMinimum.Sign() < 0 {
		return nil, errors.New("amount out minimum must not be negative")
	}

	allowances := allowance.NewManager(client)
	o := &Orchestrator{
		cfg:        cfg,
		signer:     signer,
		registry:   registry,
		allowances: allowances,
		pools:      pool.NewResolver(client),
		swaps:      swap.NewExecutor(client, swap.WithGasMultiplier(cfg.GasLimitMultiplier)),
		liquidity:  liquidity.NewProvisioner(client, allowances),
		tracer:     otel.Tracer(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes START → APPROVE_SWAP_INPUT → RESOLVE_POOL → EXECUTE_SWAP →
// APPROVE_LP_TOKEN → DEPOSIT_LIQUIDITY → DONE. Amounts are in human-readable
// units of the input and output asset. The first failure stops the run;
// transactions confirmed before it stay in effect.
func (o *Orchestrator) Run(ctx context.Context, swapAmount, liquidityAmount decimal.Decimal) (model.PipelineResult, error) {
	result := model.PipelineResult{
		RunID:     uuid.NewString(),
		Stage:     model.StageStart,
		StartedAt: o.now(),
	}
	log := logrus.WithField("run_id", result.RunID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", result.RunID),
		attribute.String("swap_amount", swapAmount.String()),
		attribute.String("liquidity_amount", liquidityAmount.String()),
	))
	defer span.End()

	if swapAmount.Sign() <= 0 || liquidityAmount.Sign() <= 0 {
		err := &StageError{Stage: model.StageStart, Err: errors.New("swap and liquidity amounts must be greater than zero")}
		return o.fail(ctx, &result, err)
	}

	in, out := o.registry.Input(), o.registry.Output()
	log.WithFields(logrus.Fields{
		"swap":      swapAmount.String() + " " + in.Symbol,
		"liquidity": liquidityAmount.String() + " " + out.Symbol,
		"account":   o.signer.Address().Hex(),
	}).Info("Pipeline started")

	// 1. Let the router pull the swap input
	err := o.runStage(ctx, &result, model.StageApproveSwapInput, func(ctx context.Context, rec *model.StepRecord) error {
		outcome, err := o.allowances.Approve(ctx, in, o.cfg.SwapRouter, swapAmount, o.signer)
		rec.Outcome = outcomeRef(outcome)
		return err
	})
	if err != nil {
		return o.fail(ctx, &result, err)
	}

	// 2. Find the pool for the pair
	var ref model.PoolReference
	err = o.runStage(ctx, &result, model.StageResolvePool, func(ctx context.Context, rec *model.StepRecord) error {
		var err error
		ref, err = o.pools.Resolve(ctx, o.cfg.PoolFactory, in.Address, out.Address, o.cfg.FeeTier)
		if err == nil {
			resolved := ref
			rec.Pool = &resolved
		}
		return err
	})
	if err != nil {
		return o.fail(ctx, &result, err)
	}

	// 3. Swap
	err = o.runStage(ctx, &result, model.StageExecuteSwap, func(ctx context.Context, rec *model.StepRecord) error {
		params, err := o.swapParameters(ref, swapAmount)
		if err != nil {
			return err
		}
		if params.AmountOutMinimum.Sign() == 0 {
			log.Warn("Swap has no slippage protection: amount out minimum is zero")
		}
		outcome, err := o.swaps.Swap(ctx, o.cfg.SwapRouter, params, o.signer)
		rec.Outcome = outcomeRef(outcome)
		return err
	})
	if err != nil {
		return o.fail(ctx, &result, err)
	}

	// 4. Let the liquidity pool pull the swap output
	err = o.runStage(ctx, &result, model.StageApproveLPToken, func(ctx context.Context, rec *model.StepRecord) error {
		outcome, err := o.liquidity.Approve(ctx, out, o.cfg.LiquidityPool, liquidityAmount, o.signer)
		rec.Outcome = outcomeRef(outcome)
		return err
	})
	if err != nil {
		return o.fail(ctx, &result, err)
	}

	// 5. Join the pool, bounded by the approved amount
	err = o.runStage(ctx, &result, model.StageDepositLiquidity, func(ctx context.Context, rec *model.StepRecord) error {
		outcome, err := o.liquidity.Deposit(ctx, out, o.cfg.LiquidityPool, liquidityAmount, []decimal.Decimal{liquidityAmount}, o.signer)
		rec.Outcome = outcomeRef(outcome)
		return err
	})
	if err != nil {
		return o.fail(ctx, &result, err)
	}

	result.Stage = model.StageDone
	result.FinishedAt = o.now()
	o.metrics.RecordRun(true)

	log.WithField("duration", result.FinishedAt.Sub(result.StartedAt)).Info("Pipeline completed")
	return result, nil
}

// swapParameters applies the configured bounds to the default parameters
func (o *Orchestrator) swapParameters(ref model.PoolReference, swapAmount decimal.Decimal) (model.SwapParameters, error) {
	in, out := o.registry.Input(), o.registry.Output()

	params, err := swap.NewParameters(ref, in, out, o.signer.Address(), swapAmount)
	if err != nil {
		return model.SwapParameters{}, err
	}

	minOut, err := assets.ToBaseUnits(o.cfg.AmountOutMinimum, out.Decimals)
	if err != nil {
		return model.SwapParameters{}, failure.Wrap(failure.KindSwap, failure.PhaseEstimation, err, "invalid amount out minimum")
	}
	params.AmountOutMinimum = minOut
	if o.cfg.SqrtPriceLimitX96 != nil {
		params.SqrtPriceLimitX96 = new(big.Int).Set(o.cfg.SqrtPriceLimitX96)
	}
	return params, nil
}

// runStage executes one stage, records it and tags its error with the stage
func (o *Orchestrator) runStage(ctx context.Context, result *model.PipelineResult, stage model.Stage, fn func(context.Context, *model.StepRecord) error) error {
	result.Stage = stage
	rec := model.StepRecord{Stage: stage, StartedAt: o.now()}

	ctx, span := o.tracer.Start(ctx, string(stage))
	err := fn(ctx, &rec)
	rec.FinishedAt = o.now()

	var kind string
	if err != nil {
		rec.Error = err.Error()
		kind = "Unknown"
		if k, ok := failure.KindOf(err); ok {
			kind = string(k)
		}
		otel.RecordError(ctx, err)
	}

	var gasUsed uint64
	if rec.Outcome != nil {
		gasUsed = rec.Outcome.GasUsed
		span.SetAttributes(attribute.String("tx", rec.Outcome.Hash.Hex()))
		logrus.WithFields(logrus.Fields{
			"run_id":   result.RunID,
			"stage":    stage,
			"success":  rec.Outcome.Success,
			"explorer": o.cfg.Chain.TxURL(rec.Outcome.Hash.Hex()),
		}).Info("Transaction settled")
	}
	span.End()

	o.metrics.ObserveStage(string(stage), kind, rec.FinishedAt.Sub(rec.StartedAt), gasUsed)
	result.Steps = append(result.Steps, rec)

	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// fail moves the run to FAILED. Nothing already confirmed is undone.
func (o *Orchestrator) fail(ctx context.Context, result *model.PipelineResult, err error) (model.PipelineResult, error) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		result.FailedStage = stageErr.Stage
	}
	if kind, ok := failure.KindOf(err); ok {
		result.FailureKind = string(kind)
		result.FailurePhase = string(failure.PhaseOf(err))
	}
	result.Stage = model.StageFailed
	result.Unresolved = failure.IsUnresolved(err)
	result.Error = err.Error()
	result.FinishedAt = o.now()

	otel.RecordError(ctx, err)
	o.metrics.RecordRun(false)

	log := logrus.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"failed_stage": result.FailedStage,
		"kind":         result.FailureKind,
		"phase":        result.FailurePhase,
	})
	if result.Unresolved {
		log.Warn("A broadcast transaction was not confirmed; check it on the explorer before retrying")
	}
	log.Errorf("Pipeline failed: %v", err)
	return *result, err
}

func outcomeRef(outcome model.TransactionOutcome) *model.TransactionOutcome {
	if outcome.Hash == (common.Hash{}) {
		return nil
	}
	return &outcome
}
