package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
)

// Process exit codes
const (
	exitOK               = 0
	exitFailure          = 1
	exitUsage            = 2
	exitAllowance        = 3
	exitPool             = 4
	exitChainUnavailable = 5
	exitSwap             = 6
	exitLiquidity        = 7
)

// exitCode maps a run error to the process exit code of its failure kind
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	kind, ok := failure.KindOf(err)
	if !ok {
		return exitFailure
	}
	switch kind {
	case failure.KindAllowance:
		return exitAllowance
	case failure.KindPoolNotFound, failure.KindPoolMismatch:
		return exitPool
	case failure.KindChainUnavailable:
		return exitChainUnavailable
	case failure.KindSwap:
		return exitSwap
	case failure.KindLiquidity:
		return exitLiquidity
	default:
		return exitFailure
	}
}

// parseAmounts reads the swap and liquidity amounts from the positional args
func parseAmounts(args []string) (decimal.Decimal, decimal.Decimal, error) {
	if len(args) != 2 {
		return decimal.Zero, decimal.Zero, errors.New("expected exactly two amounts")
	}
	swapAmount, err := assets.ParseAmount(args[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid swap amount: %w", err)
	}
	liquidityAmount, err := assets.ParseAmount(args[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid liquidity amount: %w", err)
	}
	return swapAmount, liquidityAmount, nil
}

// printSummary writes one line per stage to stdout
func printSummary(result model.PipelineResult) {
	for _, step := range result.Steps {
		status := "ok"
		if step.Error != "" {
			status = "failed"
		}
		line := fmt.Sprintf("%-20s %-6s", step.Stage, status)
		if step.Outcome != nil {
			line += " " + step.Outcome.Hash.Hex()
		}
		if step.Pool != nil {
			line += " pool=" + step.Pool.Address.Hex()
		}
		fmt.Fprintln(os.Stdout, line)
	}

	if result.Succeeded() {
		fmt.Fprintf(os.Stdout, "run %s: DONE\n", result.RunID)
		return
	}
	fmt.Fprintf(os.Stdout, "run %s: FAILED at %s (%s)\n", result.RunID, result.FailedStage, result.FailureKind)
	if result.Unresolved {
		fmt.Fprintln(os.Stdout, "a broadcast transaction is unconfirmed; check the explorer before retrying")
	}
}
