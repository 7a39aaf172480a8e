// Package assets describes the two tokens the pipeline works with and converts
// human-readable amounts to base units.
package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/contracts"
	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
)

// MaxDecimals bounds the precision of an ERC-20 token (uint256 holds 10^77).
const MaxDecimals = 77

// ErrDecimalsMismatch is returned when a token reports a different precision
// than the one configured
var ErrDecimalsMismatch = errors.New("token decimals do not match configuration")

// Sepolia test deployments of the default asset pair
var (
	USDCSepolia = model.AssetDescriptor{
		ChainID:  11155111,
		Address:  common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		Decimals: 6,
		Symbol:   "USDC",
		Name:     "USD//C",
	}
	LINKSepolia = model.AssetDescriptor{
		ChainID:  11155111,
		Address:  common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789"),
		Decimals: 18,
		Symbol:   "LINK",
		Name:     "Chainlink",
	}
)

// Registry holds the swap input asset and the swap output asset. The output
// asset is also the token deposited into the liquidity pool.
type Registry struct {
	input  model.AssetDescriptor
	output model.AssetDescriptor
}

// NewRegistry validates and stores the asset pair.
func NewRegistry(input, output model.AssetDescriptor) (*Registry, error) {
	for _, a := range []model.AssetDescriptor{input, output} {
		if err := Validate(a); err != nil {
			return nil, err
		}
	}
	if input.Address == output.Address {
		return nil, fmt.Errorf("input and output assets share address %s", input.Address.Hex())
	}
	if strings.EqualFold(input.Symbol, output.Symbol) {
		return nil, fmt.Errorf("input and output assets share symbol %s", input.Symbol)
	}
	if input.ChainID != output.ChainID {
		return nil, fmt.Errorf("assets live on different chains: %d and %d", input.ChainID, output.ChainID)
	}
	return &Registry{input: input, output: output}, nil
}

// Input returns the asset sold in the swap.
func (r *Registry) Input() model.AssetDescriptor { return r.input }

// Output returns the asset bought in the swap and deposited as liquidity.
func (r *Registry) Output() model.AssetDescriptor { return r.output }

// VerifyDecimals reads decimals() from both token contracts and fails when
// either differs from the configured precision, since every amount is scaled
// by it.
func (r *Registry) VerifyDecimals(ctx context.Context, client chain.Client) error {
	for _, a := range []model.AssetDescriptor{r.input, r.output} {
		msg, err := contracts.ViewCall(contracts.ERC20, a.Address, "decimals")
		if err != nil {
			return err
		}
		ret, err := client.CallContract(ctx, msg, nil)
		if err != nil {
			return fmt.Errorf("read %s decimals: %w", a.Symbol, err)
		}
		onChain, err := contracts.UnpackUint(contracts.ERC20, "decimals", ret)
		if err != nil {
			return fmt.Errorf("read %s decimals: %w", a.Symbol, err)
		}
		if !onChain.IsUint64() || onChain.Uint64() != uint64(a.Decimals) {
			return fmt.Errorf("%w: %s reports %s, configured %d", ErrDecimalsMismatch, a.Symbol, onChain.String(), a.Decimals)
		}
		logrus.WithFields(logrus.Fields{"asset": a.Symbol, "decimals": a.Decimals}).Debug("Token precision verified")
	}
	return nil
}

// Validate checks a single descriptor.
func Validate(a model.AssetDescriptor) error {
	if a.Address == (common.Address{}) {
		return fmt.Errorf("asset %q has no address", a.Symbol)
	}
	if a.Symbol == "" {
		return fmt.Errorf("asset %s has no symbol", a.Address.Hex())
	}
	if a.Decimals > MaxDecimals {
		return fmt.Errorf("asset %s has unsupported precision %d", a.Symbol, a.Decimals)
	}
	return nil
}

// ParseAmount parses a human-readable decimal amount such as "0.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ToBaseUnits scales amount by 10^decimals. Amounts that are negative, carry
// more fractional digits than the precision allows or exceed uint256 are
// rejected.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount.String(), decimals)
	}
	value := scaled.BigInt()
	if value.BitLen() > 256 {
		return nil, fmt.Errorf("amount %s does not fit in uint256", amount.String())
	}
	return value, nil
}
