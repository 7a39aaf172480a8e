// Package liquidity approves and deposits a liquidity position into a pooled
// liquidity contract.
package liquidity

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/swap-liquidity-pipeline/internal/allowance"
	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/contracts"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

// Provisioner joins a pool with a single LP token
type Provisioner struct {
	client     chain.Client
	allowances *allowance.Manager
}

// NewProvisioner creates a provisioner. Approvals go through allowances.
func NewProvisioner(client chain.Client, allowances *allowance.Manager) *Provisioner {
	return &Provisioner{client: client, allowances: allowances}
}

// Approve lets pool pull up to amount of lpToken from signer
func (p *Provisioner) Approve(ctx context.Context, lpToken model.AssetDescriptor, pool common.Address, amount decimal.Decimal, signer security.Signer) (model.TransactionOutcome, error) {
	outcome, err := p.allowances.Approve(ctx, lpToken, pool, amount, signer)
	if err != nil {
		return outcome, failure.Wrap(failure.KindLiquidity, failure.PhaseAllowance, err, "approve "+lpToken.Symbol+" for pool")
	}
	return outcome, nil
}

// Deposit submits joinPool(depositAmount, maxAmountsIn). All amounts are in
// human-readable units of lpToken. The allowance must already be in place.
func (p *Provisioner) Deposit(ctx context.Context, lpToken model.AssetDescriptor, pool common.Address, depositAmount decimal.Decimal, maxAmountsIn []decimal.Decimal, signer security.Signer) (model.TransactionOutcome, error) {
	poolAmountOut, err := assets.ToBaseUnits(depositAmount, lpToken.Decimals)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindLiquidity, failure.PhaseDeposit, err, "invalid deposit amount")
	}
	if poolAmountOut.Sign() == 0 {
		return model.TransactionOutcome{}, failure.New(failure.KindLiquidity, failure.PhaseDeposit, "deposit amount must be greater than zero")
	}
	if len(maxAmountsIn) == 0 {
		return model.TransactionOutcome{}, failure.New(failure.KindLiquidity, failure.PhaseDeposit, "maxAmountsIn is empty")
	}

	maxIn := make([]*big.Int, 0, len(maxAmountsIn))
	for _, amount := range maxAmountsIn {
		scaled, err := assets.ToBaseUnits(amount, lpToken.Decimals)
		if err != nil {
			return model.TransactionOutcome{}, failure.Wrap(failure.KindLiquidity, failure.PhaseDeposit, err, "invalid maxAmountsIn")
		}
		maxIn = append(maxIn, scaled)
	}

	intent, err := contracts.JoinPoolIntent(pool, poolAmountOut, maxIn)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindLiquidity, failure.PhaseDeposit, err, "build joinPool")
	}

	log := logrus.WithFields(logrus.Fields{
		"pool":            pool.Hex(),
		"pool_amount_out": poolAmountOut.String(),
		"max_amounts_in":  maxIn,
	})
	log.Info("Depositing liquidity")

	hash, err := p.client.SendIntent(ctx, intent, signer)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindLiquidity, failure.PhaseDeposit, err, "joinPool rejected")
	}

	outcome, err := p.client.WaitMined(ctx, hash)
	if err != nil {
		return outcome, failure.Wrap(failure.KindLiquidity, failure.PhaseDeposit, err, "joinPool not confirmed").WithTx(hash, true)
	}
	if !outcome.Success {
		return outcome, failure.New(failure.KindLiquidity, failure.PhaseDeposit, "joinPool reverted").WithTx(hash, false)
	}

	log.WithField("tx", hash.Hex()).Info("Liquidity deposited")
	return outcome, nil
}

// ApproveAndDeposit approves the largest of maxAmountsIn and then deposits.
// The deposit is never attempted when the approval failed.
func (p *Provisioner) ApproveAndDeposit(ctx context.Context, lpToken model.AssetDescriptor, pool common.Address, depositAmount decimal.Decimal, maxAmountsIn []decimal.Decimal, signer security.Signer) (model.TransactionOutcome, error) {
	approval := depositAmount
	if len(maxAmountsIn) > 0 {
		approval = decimal.Max(maxAmountsIn[0], maxAmountsIn[1:]...)
	}

	if _, err := p.Approve(ctx, lpToken, pool, approval, signer); err != nil {
		return model.TransactionOutcome{}, err
	}
	return p.Deposit(ctx, lpToken, pool, depositAmount, maxAmountsIn, signer)
}
