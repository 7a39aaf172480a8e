// Package pool locates the AMM pool for a token pair and fee tier and reads
// its immutable parameters.
package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/contracts"
	"github.com/yourorg/swap-liquidity-pipeline/internal/failure"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
)

// Resolver looks pools up through a factory. It keeps no cache; every
// Resolve goes to the chain.
type Resolver struct {
	client chain.Client
}

// NewResolver creates a pool resolver
func NewResolver(client chain.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the pool for the unordered pair (tokenA, tokenB) at fee.
// A zero address from the factory yields PoolNotFound; a pool whose own
// tokens or fee disagree with the request yields PoolMismatch.
func (r *Resolver) Resolve(ctx context.Context, factory, tokenA, tokenB common.Address, fee uint32) (model.PoolReference, error) {
	msg, err := contracts.GetPoolCall(factory, tokenA, tokenB, fee)
	if err != nil {
		return model.PoolReference{}, err
	}
	ret, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return model.PoolReference{}, failure.Wrap(failure.KindChainUnavailable, failure.PhaseNone, err, "factory getPool")
	}
	addr, err := contracts.UnpackAddress(contracts.Factory, "getPool", ret)
	if err != nil {
		return model.PoolReference{}, failure.Wrap(failure.KindChainUnavailable, failure.PhaseNone, err, "factory getPool")
	}

	log := logrus.WithFields(logrus.Fields{
		"factory": factory.Hex(),
		"token_a": tokenA.Hex(),
		"token_b": tokenB.Hex(),
		"fee":     fee,
	})
	if addr == (common.Address{}) {
		log.Warn("No pool deployed for pair and fee tier")
		return model.PoolReference{}, failure.New(failure.KindPoolNotFound, failure.PhaseNone,
			fmt.Sprintf("no pool for %s/%s at fee %d", tokenA.Hex(), tokenB.Hex(), fee))
	}

	ref, err := r.readPool(ctx, addr)
	if err != nil {
		return model.PoolReference{}, err
	}

	if !samePair(ref, tokenA, tokenB) {
		return ref, failure.New(failure.KindPoolMismatch, failure.PhaseNone,
			fmt.Sprintf("pool %s holds %s/%s", addr.Hex(), ref.Token0.Hex(), ref.Token1.Hex()))
	}
	if ref.Fee != fee {
		return ref, failure.New(failure.KindPoolMismatch, failure.PhaseNone,
			fmt.Sprintf("pool %s reports fee %d, requested %d", addr.Hex(), ref.Fee, fee))
	}

	log.WithFields(logrus.Fields{
		"pool":   addr.Hex(),
		"token0": ref.Token0.Hex(),
		"token1": ref.Token1.Hex(),
	}).Info("Pool resolved")
	return ref, nil
}

// readPool reads token0, token1 and fee concurrently
func (r *Resolver) readPool(ctx context.Context, addr common.Address) (model.PoolReference, error) {
	ref := model.PoolReference{Address: addr}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref.Token0, err = r.readAddress(gctx, addr, "token0")
		return err
	})
	g.Go(func() error {
		var err error
		ref.Token1, err = r.readAddress(gctx, addr, "token1")
		return err
	})
	g.Go(func() error {
		ret, err := r.call(gctx, contracts.Pool, addr, "fee")
		if err != nil {
			return err
		}
		v, err := contracts.UnpackUint(contracts.Pool, "fee", ret)
		if err != nil {
			return failure.Wrap(failure.KindChainUnavailable, failure.PhaseNone, err, "pool fee")
		}
		if !v.IsUint64() || v.Uint64() > 1<<24-1 {
			return failure.New(failure.KindPoolMismatch, failure.PhaseNone, "pool fee out of range: "+v.String())
		}
		ref.Fee = uint32(v.Uint64())
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.PoolReference{}, err
	}
	return ref, nil
}

func (r *Resolver) readAddress(ctx context.Context, addr common.Address, method string) (common.Address, error) {
	ret, err := r.call(ctx, contracts.Pool, addr, method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := contracts.UnpackAddress(contracts.Pool, method, ret)
	if err != nil {
		return common.Address{}, failure.Wrap(failure.KindChainUnavailable, failure.PhaseNone, err, "pool "+method)
	}
	return out, nil
}

func (r *Resolver) call(ctx context.Context, contract abi.ABI, addr common.Address, method string) ([]byte, error) {
	msg, err := contracts.ViewCall(contract, addr, method)
	if err != nil {
		return nil, err
	}
	ret, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, failure.Wrap(failure.KindChainUnavailable, failure.PhaseNone, err, "pool "+method)
	}
	return ret, nil
}

func samePair(ref model.PoolReference, tokenA, tokenB common.Address) bool {
	return (ref.Token0 == tokenA && ref.Token1 == tokenB) || (ref.Token0 == tokenB && ref.Token1 == tokenA)
}
