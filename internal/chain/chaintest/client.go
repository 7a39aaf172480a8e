// Package chaintest provides a scriptable in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

// DefaultGas is returned by EstimateGas unless a failure is scripted
const DefaultGas = 100_000

type key struct {
	to       common.Address
	selector [4]byte
}

type response struct {
	ret []byte
	err error
}

// Client answers calls from scripted responses keyed by target address and
// method selector, and records every estimate and broadcast.
type Client struct {
	mu sync.Mutex

	calls       map[key]response
	estimateErr map[key]error
	sendErr     map[key]error
	reverts     map[key]bool
	timeouts    map[key]bool
	waitErr     map[key]error

	outcomes map[common.Hash]model.TransactionOutcome
	pending  map[common.Hash]error
	nonce    uint64

	// Estimated holds every call passed to EstimateGas
	Estimated []ethereum.CallMsg

	// Sent holds every intent passed to SendIntent that was accepted
	Sent []model.TransactionIntent
}

// New creates an empty fake
func New() *Client {
	return &Client{
		calls:       make(map[key]response),
		estimateErr: make(map[key]error),
		sendErr:     make(map[key]error),
		reverts:     make(map[key]bool),
		timeouts:    make(map[key]bool),
		waitErr:     make(map[key]error),
		outcomes:    make(map[common.Hash]model.TransactionOutcome),
		pending:     make(map[common.Hash]error),
	}
}

var _ chain.Client = (*Client)(nil)

// OnCall scripts the return data of a view call
func (c *Client) OnCall(to common.Address, selector [4]byte, ret []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key{to, selector}] = response{ret: ret}
}

// FailCall makes a view call return err
func (c *Client) FailCall(to common.Address, selector [4]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key{to, selector}] = response{err: err}
}

// FailEstimate makes gas estimation of a method fail
func (c *Client) FailEstimate(to common.Address, selector [4]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimateErr[key{to, selector}] = err
}

// FailSend makes broadcasting a method fail
func (c *Client) FailSend(to common.Address, selector [4]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr[key{to, selector}] = err
}

// Revert makes a method be mined with a failed status
func (c *Client) Revert(to common.Address, selector [4]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reverts[key{to, selector}] = true
}

// Timeout makes a method never be mined
func (c *Client) Timeout(to common.Address, selector [4]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts[key{to, selector}] = true
}

// FailWait makes the receipt lookup of a method fail with err
func (c *Client) FailWait(to common.Address, selector [4]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitErr[key{to, selector}] = err
}

// SentMethods returns the method names of accepted broadcasts, in order
func (c *Client) SentMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	methods := make([]string, 0, len(c.Sent))
	for _, intent := range c.Sent {
		methods = append(methods, intent.Method)
	}
	return methods
}

// SentTo returns the accepted broadcasts of a method
func (c *Client) SentTo(method string) []model.TransactionIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.TransactionIntent
	for _, intent := range c.Sent {
		if intent.Method == method {
			out = append(out, intent)
		}
	}
	return out
}

// CallContract returns the scripted response
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := keyOf(msg.To, msg.Data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.calls[k]
	if !ok {
		return nil, fmt.Errorf("chaintest: no response scripted for %s %x", k.to.Hex(), k.selector)
	}
	return resp.ret, resp.err
}

// EstimateGas records the call and returns DefaultGas or the scripted error
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	k, err := keyOf(msg.To, msg.Data)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Estimated = append(c.Estimated, msg)
	if err := c.estimateErr[k]; err != nil {
		return 0, err
	}
	return DefaultGas, nil
}

// SendIntent records the intent and schedules its outcome
func (c *Client) SendIntent(ctx context.Context, intent model.TransactionIntent, signer security.Signer) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	to := intent.To
	k, err := keyOf(&to, intent.Data)
	if err != nil {
		return common.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErr[k]; err != nil {
		return common.Hash{}, err
	}

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], c.nonce)
	hash := crypto.Keccak256Hash(signer.Address().Bytes(), nonce[:], intent.Data)
	c.nonce++
	c.Sent = append(c.Sent, intent)

	switch {
	case c.timeouts[k]:
		c.pending[hash] = fmt.Errorf("%w: %s", chain.ErrConfirmationTimeout, hash.Hex())
	case c.waitErr[k] != nil:
		c.pending[hash] = c.waitErr[k]
	default:
		gasUsed := uint64(DefaultGas)
		if intent.GasLimit > 0 && intent.GasLimit < gasUsed {
			gasUsed = intent.GasLimit
		}
		c.outcomes[hash] = model.TransactionOutcome{
			Hash:        hash,
			BlockNumber: new(big.Int).SetUint64(c.nonce),
			Included:    true,
			Success:     !c.reverts[k],
			GasUsed:     gasUsed,
		}
	}
	return hash, nil
}

// WaitMined returns the scheduled outcome
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (model.TransactionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return model.TransactionOutcome{Hash: hash}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.pending[hash]; ok {
		return model.TransactionOutcome{Hash: hash}, err
	}
	outcome, ok := c.outcomes[hash]
	if !ok {
		return model.TransactionOutcome{Hash: hash}, fmt.Errorf("%w: unknown transaction %s", chain.ErrConfirmationTimeout, hash.Hex())
	}
	return outcome, nil
}

func keyOf(to *common.Address, data []byte) (key, error) {
	if to == nil {
		return key{}, fmt.Errorf("chaintest: call without target")
	}
	if len(data) < 4 {
		return key{}, fmt.Errorf("chaintest: call data shorter than a selector")
	}
	var k key
	k.to = *to
	copy(k.selector[:], data[:4])
	return k, nil
}
