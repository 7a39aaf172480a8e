// Package main runs the swap and liquidity pipeline once: approve the input
// token, swap it through the AMM pool, then deposit the output token into
// the liquidity pool.
//
// Usage:
//
//	pipeline [-config pipeline.yaml] <swap-amount> <liquidity-amount>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/swap-liquidity-pipeline/internal/assets"
	"github.com/yourorg/swap-liquidity-pipeline/internal/chain"
	"github.com/yourorg/swap-liquidity-pipeline/internal/config"
	"github.com/yourorg/swap-liquidity-pipeline/internal/metrics"
	"github.com/yourorg/swap-liquidity-pipeline/internal/otel"
	"github.com/yourorg/swap-liquidity-pipeline/internal/pipeline"
	"github.com/yourorg/swap-liquidity-pipeline/internal/report"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
	"github.com/yourorg/swap-liquidity-pipeline/internal/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: pipeline [-config file] <swap-amount> <liquidity-amount>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	swapAmount, liquidityAmount, err := parseAmounts(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitUsage
	}
	setupLogging(cfg.LogFormat, cfg.LogLevel)

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.Serve(ctx, cfg.MetricsAddr, reg)

	signer, err := security.NewKeySigner(cfg.PrivateKey)
	if err != nil {
		logrus.Errorf("Invalid signing key: %v", err)
		return exitUsage
	}

	in, out := cfg.Assets()
	registry, err := assets.NewRegistry(in, out)
	if err != nil {
		logrus.Errorf("Invalid asset configuration: %v", err)
		return exitUsage
	}

	pipelineCfg, err := pipelineConfig(cfg)
	if err != nil {
		logrus.Errorf("Invalid swap configuration: %v", err)
		return exitUsage
	}

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ResolvedChainID(), chain.Options{
		GasLimitMultiplier: cfg.GasLimitMultiplier,
		ReceiptTimeout:     cfg.ReceiptTimeout,
		PollInterval:       cfg.ReceiptPollInterval,
		RequestTimeout:     cfg.RequestTimeout,
		RetryMax:           cfg.RPCRetryMax,
		BreakerFailures:    cfg.RPCBreakerFailures,
		BreakerResetDelay:  cfg.RPCBreakerResetDelay,
		OnBreakerTrip:      m.RecordBreakerTrip,
	})
	if err != nil {
		logrus.Errorf("Failed to connect to %s: %v", cfg.Chain, err)
		return exitChainUnavailable
	}
	defer client.Close()

	logrus.WithFields(logrus.Fields{
		"chain":    cfg.Chain,
		"chain_id": client.ChainID().String(),
		"account":  signer.Address().Hex(),
	}).Info("Connected")

	if err := registry.VerifyDecimals(ctx, client); err != nil {
		logrus.Errorf("Asset check failed: %v", err)
		if errors.Is(err, assets.ErrDecimalsMismatch) {
			return exitUsage
		}
		return exitChainUnavailable
	}

	orch, err := pipeline.New(pipelineCfg, client, signer, registry, pipeline.WithMetrics(m))
	if err != nil {
		logrus.Errorf("Failed to build pipeline: %v", err)
		return exitUsage
	}

	result, runErr := orch.Run(ctx, swapAmount, liquidityAmount)

	// The run is over either way; the report must not be cut short by a signal.
	if err := report.NewNotifier(cfg.WebhookURL, cfg.WebhookAPIKey, report.WithSigner(signer)).Notify(context.WithoutCancel(ctx), result); err != nil {
		logrus.Warnf("Failed to deliver run report: %v", err)
	}

	printSummary(result)
	return exitCode(runErr)
}

// pipelineConfig converts the loaded settings into orchestrator settings
func pipelineConfig(cfg config.Config) (pipeline.Config, error) {
	minOut, err := cfg.MinimumOutput()
	if err != nil {
		return pipeline.Config{}, err
	}
	limit, err := cfg.PriceLimit()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		PoolFactory:        common.HexToAddress(cfg.PoolFactory),
		SwapRouter:         common.HexToAddress(cfg.SwapRouter),
		LiquidityPool:      common.HexToAddress(cfg.LiquidityPool),
		FeeTier:            cfg.FeeTier,
		AmountOutMinimum:   minOut,
		SqrtPriceLimitX96:  limit,
		GasLimitMultiplier: cfg.GasLimitMultiplier,
		Chain:              types.SupportedChain(cfg.Chain),
	}, nil
}

// setupLogging configures the logging for the application
func setupLogging(format, level string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Debug("Logging configured")
}
