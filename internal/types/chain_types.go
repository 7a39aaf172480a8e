// Package types contains shared type definitions used across multiple packages
package types

import "strings"

// SupportedChain represents a blockchain network the pipeline can target
type SupportedChain string

// Supported blockchain networks
const (
	ChainSepolia  SupportedChain = "sepolia"
	ChainEthereum SupportedChain = "ethereum"
	ChainArbitrum SupportedChain = "arbitrum"
	ChainOptimism SupportedChain = "optimism"
	ChainBase     SupportedChain = "base"
)

// ChainConfig holds static metadata for a network
type ChainConfig struct {
	ChainID     int64  `json:"chain_id" yaml:"chain_id"`
	ExplorerURL string `json:"explorer_url" yaml:"explorer_url"`
}

// KnownChains maps each supported network to its metadata
var KnownChains = map[SupportedChain]ChainConfig{
	ChainSepolia:  {ChainID: 11155111, ExplorerURL: "https://sepolia.etherscan.io"},
	ChainEthereum: {ChainID: 1, ExplorerURL: "https://etherscan.io"},
	ChainArbitrum: {ChainID: 42161, ExplorerURL: "https://arbiscan.io"},
	ChainOptimism: {ChainID: 10, ExplorerURL: "https://optimistic.etherscan.io"},
	ChainBase:     {ChainID: 8453, ExplorerURL: "https://basescan.org"},
}

// Lookup returns the metadata of a supported chain
func Lookup(chain SupportedChain) (ChainConfig, bool) {
	cfg, ok := KnownChains[SupportedChain(strings.ToLower(string(chain)))]
	return cfg, ok
}

// TxURL returns an explorer link for a transaction hash, or the bare hash
// when the network has no known explorer
func (c SupportedChain) TxURL(hash string) string {
	cfg, ok := Lookup(c)
	if !ok || cfg.ExplorerURL == "" {
		return hash
	}
	return cfg.ExplorerURL + "/tx/" + hash
}
