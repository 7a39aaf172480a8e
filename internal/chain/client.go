// Package chain is the network collaborator of the pipeline. It reads contract
// state, submits signed transactions and resolves their receipts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/swap-liquidity-pipeline/internal/circuitbreaker"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

// Client defines what the pipeline components need from the network
type Client interface {
	// CallContract executes a view call at the given block, nil meaning latest
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)

	// EstimateGas returns the gas a call would use if it were sent now
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// SendIntent signs and broadcasts an intent and returns its hash
	SendIntent(ctx context.Context, intent model.TransactionIntent, signer security.Signer) (common.Hash, error)

	// WaitMined blocks until the transaction is included or the receipt timeout passes
	WaitMined(ctx context.Context, hash common.Hash) (model.TransactionOutcome, error)
}

// Backend is the go-ethereum surface used by RPCClient. Both ethclient and
// the simulated backend satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Options tunes transaction submission and confirmation
type Options struct {
	// GasLimitMultiplier pads gas estimates of intents that leave GasLimit zero
	GasLimitMultiplier float64

	// ReceiptTimeout bounds WaitMined
	ReceiptTimeout time.Duration

	// PollInterval is the minimum delay between receipt lookups
	PollInterval time.Duration

	// RequestTimeout bounds a single HTTP request on the read transport
	RequestTimeout time.Duration

	// RetryMax is the retry budget of the read transport
	RetryMax int

	// BreakerFailures is the number of consecutive unreachable-node errors
	// after which calls fail fast for BreakerResetDelay
	BreakerFailures   int
	BreakerResetDelay time.Duration

	// OnBreakerTrip is called, on its own goroutine, each time the breaker opens
	OnBreakerTrip func(reason string)
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		GasLimitMultiplier: 1.2,
		ReceiptTimeout:     3 * time.Minute,
		PollInterval:       2 * time.Second,
		RequestTimeout:     15 * time.Second,
		RetryMax:           3,
		BreakerFailures:    5,
		BreakerResetDelay:  30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.GasLimitMultiplier < 1 {
		o.GasLimitMultiplier = d.GasLimitMultiplier
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = d.ReceiptTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.RetryMax < 0 {
		o.RetryMax = d.RetryMax
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = d.BreakerFailures
	}
	if o.BreakerResetDelay <= 0 {
		o.BreakerResetDelay = d.BreakerResetDelay
	}
	return o
}

// RPCClient implements Client on top of go-ethereum backends. Reads use a
// retrying transport; writes use a plain one so that a broadcast is never
// replayed below the pipeline.
type RPCClient struct {
	reader  Backend
	writer  Backend
	chainID *big.Int
	opts    Options
	breaker *circuitbreaker.CircuitBreaker
	closers []func()
}

// Dial connects to an RPC endpoint. A zero chainID is queried from the node.
func Dial(ctx context.Context, endpoint string, chainID int64, opts Options) (*RPCClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("rpc endpoint is not configured")
	}
	opts = opts.withDefaults()

	readRPC, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(newRetryHTTPClient(opts)))
	if err != nil {
		return nil, classify("dial read endpoint", err)
	}
	writeRPC, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		readRPC.Close()
		return nil, classify("dial write endpoint", err)
	}

	readEth := ethclient.NewClient(readRPC)
	c := &RPCClient{
		reader:  readEth,
		writer:  ethclient.NewClient(writeRPC),
		opts:    opts,
		breaker: newBreaker(opts),
		closers: []func(){readRPC.Close, writeRPC.Close},
	}

	if chainID > 0 {
		c.chainID = big.NewInt(chainID)
	} else {
		id, err := readEth.ChainID(ctx)
		if err != nil {
			c.Close()
			return nil, classify("query chain id", err)
		}
		c.chainID = id
	}

	logrus.WithFields(logrus.Fields{
		"chain_id":        c.chainID.String(),
		"receipt_timeout": opts.ReceiptTimeout,
		"retry_max":       opts.RetryMax,
	}).Info("Connected to RPC endpoint")
	return c, nil
}

// NewSimulatedClient wraps a single backend, such as the go-ethereum
// simulated backend, for both reads and writes
func NewSimulatedClient(backend Backend, chainID *big.Int, opts Options) *RPCClient {
	opts = opts.withDefaults()
	return &RPCClient{
		reader:  backend,
		writer:  backend,
		chainID: new(big.Int).Set(chainID),
		opts:    opts,
		breaker: newBreaker(opts),
	}
}

func newBreaker(opts Options) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Thresholds{MaxConsecutiveFailures: opts.BreakerFailures}).
		WithResetDelay(opts.BreakerResetDelay).
		WithTripCallback(opts.OnBreakerTrip)
}

// newRetryHTTPClient creates the retrying HTTP client used for reads
func newRetryHTTPClient(opts Options) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = opts.RequestTimeout

	std := c.StandardClient()
	std.Timeout = opts.RequestTimeout * time.Duration(opts.RetryMax+1)
	return std
}

// ChainID returns the chain transactions are signed for
func (c *RPCClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying connections
func (c *RPCClient) Close() {
	for _, closeFn := range c.closers {
		closeFn()
	}
	c.closers = nil
}

// CallContract executes a view call
func (c *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out []byte
	err := c.guard(ctx, "call contract", func() (err error) {
		out, err = c.reader.CallContract(ctx, msg, block)
		return err
	})
	return out, err
}

// EstimateGas estimates the gas of a call
func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.guard(ctx, "estimate gas", func() (err error) {
		gas, err = c.reader.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendIntent fills in nonce, gas and fees, signs the transaction and broadcasts it
func (c *RPCClient) SendIntent(ctx context.Context, intent model.TransactionIntent, signer security.Signer) (common.Hash, error) {
	from := signer.Address()

	var nonce uint64
	err := c.guard(ctx, "pending nonce", func() (err error) {
		nonce, err = c.reader.PendingNonceAt(ctx, from)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := intent.GasLimit
	if gasLimit == 0 {
		estimate, err := c.EstimateGas(ctx, CallMsg(from, intent))
		if err != nil {
			return common.Hash{}, err
		}
		gasLimit = ScaleGas(estimate, c.opts.GasLimitMultiplier)
	}

	tx, err := c.newTransaction(ctx, nonce, gasLimit, intent)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}

	err = c.guard(ctx, "send transaction", func() error {
		return c.writer.SendTransaction(ctx, signed)
	})
	if err != nil {
		return common.Hash{}, err
	}

	logrus.WithFields(logrus.Fields{
		"method": intent.Method,
		"to":     intent.To.Hex(),
		"nonce":  nonce,
		"gas":    gasLimit,
		"tx":     signed.Hash().Hex(),
	}).Debug("Transaction broadcast")
	return signed.Hash(), nil
}

// newTransaction prices the transaction: EIP-1559 when the head carries a
// base fee, legacy otherwise
func (c *RPCClient) newTransaction(ctx context.Context, nonce, gasLimit uint64, intent model.TransactionIntent) (*types.Transaction, error) {
	var head *types.Header
	err := c.guard(ctx, "latest header", func() (err error) {
		head, err = c.reader.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	value := intent.Value
	if value == nil {
		value = new(big.Int)
	}
	to := intent.To

	if head.BaseFee == nil {
		var gasPrice *big.Int
		err := c.guard(ctx, "suggest gas price", func() (err error) {
			gasPrice, err = c.reader.SuggestGasPrice(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     intent.Data,
		}), nil
	}

	var tip *big.Int
	err = c.guard(ctx, "suggest gas tip", func() (err error) {
		tip, err = c.reader.SuggestGasTipCap(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      intent.Data,
	}), nil
}

// WaitMined polls for the receipt until it appears or the receipt timeout
// passes. Cancelling ctx returns ctx's error rather than
// ErrConfirmationTimeout.
func (c *RPCClient) WaitMined(ctx context.Context, hash common.Hash) (model.TransactionOutcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.opts.PollInterval), 1)
	pending := model.TransactionOutcome{Hash: hash}

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return pending, c.waitError(ctx, hash, err)
		}

		var receipt *types.Receipt
		err := c.guard(waitCtx, "transaction receipt", func() (err error) {
			receipt, err = c.reader.TransactionReceipt(waitCtx, hash)
			return err
		})
		switch {
		case err == nil:
			return OutcomeFromReceipt(receipt), nil
		case errors.Is(err, ethereum.NotFound):
			continue
		case waitCtx.Err() != nil:
			return pending, c.waitError(ctx, hash, waitCtx.Err())
		default:
			return pending, err
		}
	}
}

// waitError tells a cancelled caller apart from an expired receipt timeout
func (c *RPCClient) waitError(parent context.Context, hash common.Hash, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("wait for %s: %w", hash.Hex(), parentErr)
	}
	return fmt.Errorf("%w: %s not mined within %s: %w", ErrConfirmationTimeout, hash.Hex(), c.opts.ReceiptTimeout, err)
}

// guard runs one node call behind the circuit breaker. Only unreachable-node
// errors count as failures; an error answered by the node counts as success.
func (c *RPCClient) guard(ctx context.Context, op string, call func() error) error {
	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	err := call()
	switch {
	case err == nil:
		c.breaker.Success()
		return nil
	case ctx.Err() != nil:
		return classify(op, err)
	case IsUnavailable(err):
		c.breaker.Failure(fmt.Sprintf("%s: %v", op, err))
	default:
		c.breaker.Success()
	}
	return classify(op, err)
}

// OutcomeFromReceipt converts a receipt into a TransactionOutcome
func OutcomeFromReceipt(receipt *types.Receipt) model.TransactionOutcome {
	outcome := model.TransactionOutcome{
		Hash:     receipt.TxHash,
		Included: receipt.BlockNumber != nil,
		Success:  receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:  receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		outcome.BlockNumber = new(big.Int).Set(receipt.BlockNumber)
	}
	return outcome
}

// CallMsg turns an intent into the call used for estimation
func CallMsg(from common.Address, intent model.TransactionIntent) ethereum.CallMsg {
	to := intent.To
	return ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: intent.Value,
		Data:  intent.Data,
	}
}

// ScaleGas pads a gas estimate, never returning less than the estimate
func ScaleGas(estimate uint64, multiplier float64) uint64 {
	if multiplier <= 1 {
		return estimate
	}
	scaled := math.Ceil(float64(estimate) * multiplier)
	if scaled >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(scaled)
}
