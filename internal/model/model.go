// Package model defines the core data structures that flow through the pipeline.
package model

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AssetDescriptor describes a token the pipeline trades or deposits.
// Instances are created at start-up and never mutated.
type AssetDescriptor struct {
	// ChainID identifies the network the token lives on
	ChainID int64 `json:"chain_id"`

	// Address is the ERC-20 contract address
	Address common.Address `json:"address"`

	// Decimals is used to scale human-readable amounts to base units
	Decimals uint8 `json:"decimals"`

	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`
}

// PoolReference is a resolved AMM pool. It is looked up once per run and never cached.
type PoolReference struct {
	Address common.Address `json:"address"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`

	// Fee is the fee tier as reported by the pool itself
	Fee uint32 `json:"fee"`
}

// TransactionIntent is the unsigned description of an on-chain call.
type TransactionIntent struct {
	To common.Address

	// Method is the ABI method name, kept for logging
	Method string

	Data  []byte
	Value *big.Int

	// GasLimit of zero lets the chain client estimate it
	GasLimit uint64
}

// TransactionOutcome is the confirmed result of a submitted intent.
// Only an outcome with Success set may gate the next step.
type TransactionOutcome struct {
	Hash        common.Hash `json:"hash"`
	BlockNumber *big.Int    `json:"block_number,omitempty"`
	Included    bool        `json:"included"`
	Success     bool        `json:"success"`
	GasUsed     uint64      `json:"gas_used"`
}

// SwapParameters mirrors the router's single-hop exact-input struct.
type SwapParameters struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Fee       uint32
	Recipient common.Address

	// AmountIn is expressed in base units of TokenIn
	AmountIn *big.Int

	// AmountOutMinimum defaults to zero, which means no slippage protection
	AmountOutMinimum *big.Int

	// SqrtPriceLimitX96 of zero disables the price limit
	SqrtPriceLimitX96 *big.Int
}

// Validate checks the invariants the router cannot be trusted to report clearly.
func (p SwapParameters) Validate() error {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return errors.New("amountIn must be greater than zero")
	}
	if p.AmountOutMinimum != nil && p.AmountOutMinimum.Sign() < 0 {
		return errors.New("amountOutMinimum must not be negative")
	}
	if p.SqrtPriceLimitX96 != nil && p.SqrtPriceLimitX96.Sign() < 0 {
		return errors.New("sqrtPriceLimitX96 must not be negative")
	}
	if p.TokenIn == (common.Address{}) || p.TokenOut == (common.Address{}) {
		return errors.New("swap tokens must be set")
	}
	if p.TokenIn == p.TokenOut {
		return errors.New("tokenIn and tokenOut must differ")
	}
	if p.Recipient == (common.Address{}) {
		return errors.New("recipient must be set")
	}
	return nil
}

// Stage is a state of the pipeline state machine.
type Stage string

// Pipeline stages, in execution order
const (
	StageStart            Stage = "START"
	StageApproveSwapInput Stage = "APPROVE_SWAP_INPUT"
	StageResolvePool      Stage = "RESOLVE_POOL"
	StageExecuteSwap      Stage = "EXECUTE_SWAP"
	StageApproveLPToken   Stage = "APPROVE_LP_TOKEN"
	StageDepositLiquidity Stage = "DEPOSIT_LIQUIDITY"
	StageDone             Stage = "DONE"
	StageFailed           Stage = "FAILED"
)

// StepRecord captures what happened in a single stage.
type StepRecord struct {
	Stage      Stage               `json:"stage"`
	Outcome    *TransactionOutcome `json:"outcome,omitempty"`
	Pool       *PoolReference      `json:"pool,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
}

// PipelineResult summarises a run. Stage is DONE or FAILED once Run returns.
type PipelineResult struct {
	RunID        string       `json:"run_id"`
	Stage        Stage        `json:"stage"`
	FailedStage  Stage        `json:"failed_stage,omitempty"`
	FailureKind  string       `json:"failure_kind,omitempty"`
	FailurePhase string       `json:"failure_phase,omitempty"`
	Unresolved   bool         `json:"unresolved,omitempty"`
	Steps        []StepRecord `json:"steps"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Succeeded reports whether every stage completed.
func (r PipelineResult) Succeeded() bool {
	return r.Stage == StageDone
}
