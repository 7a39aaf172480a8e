// Package allowance issues ERC-20 approvals and waits for their confirmation.
package allowance

import (
	"context"

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

// Manager approves spenders on behalf of a signer
type Manager struct {
	client chain.Client
}

// NewManager creates an allowance manager
func NewManager(client chain.Client) *Manager {
	return &Manager{client: client}
}

// Approve sets the allowance of spender over signer's balance of asset to
// amount, given in human-readable units. It returns once the approval is
// mined. Nothing is retried.
func (m *Manager) Approve(ctx context.Context, asset model.AssetDescriptor, spender common.Address, amount decimal.Decimal, signer security.Signer) (model.TransactionOutcome, error) {
	scaled, err := assets.ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindAllowance, failure.PhaseNone, err, "invalid "+asset.Symbol+" amount")
	}

	intent, err := contracts.ApproveIntent(asset.Address, spender, scaled)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindAllowance, failure.PhaseNone, err, "build approve")
	}

	log := logrus.WithFields(logrus.Fields{
		"asset":   asset.Symbol,
		"spender": spender.Hex(),
		"amount":  scaled.String(),
	})
	log.Info("Approving allowance")

	hash, err := m.client.SendIntent(ctx, intent, signer)
	if err != nil {
		return model.TransactionOutcome{}, failure.Wrap(failure.KindAllowance, failure.PhaseSubmission, err, "approve "+asset.Symbol+" rejected")
	}

	outcome, err := m.client.WaitMined(ctx, hash)
	if err != nil {
		// Broadcast but not confirmed: the approval may still land
		return outcome, failure.Wrap(failure.KindAllowance, failure.PhaseExecution, err, "approve "+asset.Symbol+" not confirmed").WithTx(hash, true)
	}
	if !outcome.Success {
		return outcome, failure.New(failure.KindAllowance, failure.PhaseExecution, "approve "+asset.Symbol+" reverted").WithTx(hash, false)
	}

	log.WithFields(logrus.Fields{
		"tx":    hash.Hex(),
		"block": outcome.BlockNumber,
	}).Info("Allowance confirmed")
	return outcome, nil
}
