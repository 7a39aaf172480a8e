// Package swap executes single-hop exact-input swaps through the AMM router.
package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/contracts"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

// DefaultGasMultiplier pads the swap gas estimate
const DefaultGasMultiplier = 1.2

// Executor submits swaps. A swap is only signed after its gas estimate succeeded.
type Executor struct {
	client        chain.Client
	gasMultiplier float64
}

// Option configures an Executor
type Option func(*Executor)

// WithGasMultiplier sets the padding applied to the gas estimate
func WithGasMultiplier(multiplier float64) Option {
	return func(e *Executor) {
		if multiplier >= 1 {
			e.gasMultiplier = multiplier
		}
	}
}

// NewExecutor creates a swap executor
func NewExecutor(client chain.Client, opts ...Option) *Executor {
	e := &Executor{client: client, gasMultiplier: DefaultGasMultiplier}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewParameters builds swap parameters for selling amountIn of in for out
// through pool. The fee tier is taken from the resolved pool. The minimum
// output and the price limit are zero, so the swap has no slippage
// protection until the caller sets AmountOutMinimum.
func NewParameters(pool model.PoolReference, in, out model.AssetDescriptor, recipient common.Address, amountIn decimal.Decimal) (model.SwapParameters, error) {
	scaled, err := assets.ToBaseUnits(amountIn, in.Decimals)
	if err != nil {
		return model.SwapParameters{}, failure.Wrap(failure.KindSwap, failure.PhaseEstimation, err, "invalid "+in.Symbol+" amount")
	}
	params := model.SwapParameters{
		TokenIn:           in.Address,
		TokenOut:          out.Address,
		Fee:               pool.Fee,
		Recipient:         recipient,
		AmountIn:          scaled,
		AmountOutMinimum:  new(big.Int),
		SqrtPriceLimitX96: new(big.Int),
	}
	return params, nil
}

// Swap estimates, signs, broadcasts and confirms an exactInputSingle call.
// Estimation failure returns before anything is signed.
func (e *Executor) Swap(ctx context.Context, router common.Address, params model.SwapParameters, signer security.Signer) (model.TransactionOutcome, error) {
	if err := params.Validate(); err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindSwap, failure.PhaseEstimation, err, "invalid swap parameters")
	}

	intent, err := contracts.ExactInputSingleIntent(router, params)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindSwap, failure.PhaseEstimation, err, "build swap")
	}

	log := logrus.WithFields(logrus.Fields{
		"router":             router.Hex(),
		"token_in":           params.TokenIn.Hex(),
		"token_out":          params.TokenOut.Hex(),
		"fee":                params.Fee,
		"amount_in":          params.AmountIn.String(),
		"amount_out_minimum": bigString(params.AmountOutMinimum),
		"sqrt_price_limit":   bigString(params.SqrtPriceLimitX96),
	})
	log.Info("Estimating swap gas")

	estimate, err := e.client.EstimateGas(ctx, chain.CallMsg(signer.Address(), intent))
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindSwap, failure.PhaseEstimation, err, "swap would not succeed")
	}
	intent.GasLimit = chain.ScaleGas(estimate, e.gasMultiplier)
	log = log.WithFields(logrus.Fields{"estimated_gas": estimate, "gas_limit": intent.GasLimit})
	log.Info("Submitting swap")

	hash, err := e.client.SendIntent(ctx, intent, signer)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindSwap, failure.PhaseSubmission, err, "swap broadcast failed")
	}

	outcome, err := e.client.WaitMined(ctx, hash)
	if err != nil {
		return outcome, failure.Wrap(failure.KindSwap, failure.PhaseExecution, err, "swap not confirmed").WithTx(hash, true)
	}
	if !outcome.Success {
		return outcome, failure.New(failure.KindSwap, failure.PhaseExecution, "swap reverted").WithTx(hash, false)
	}

	log.WithFields(logrus.Fields{
		"tx":       hash.Hex(),
		"gas_used": outcome.GasUsed,
	}).Info("Swap confirmed")
	return outcome, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
