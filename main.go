package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/btb-finance/clmm-core/lib/config"
	"github.com/btb-finance/clmm-core/lib/executor"
	"github.com/btb-finance/clmm-core/lib/manager"
	"github.com/btb-finance/clmm-core/lib/prices"
	"github.com/btb-finance/clmm-core/lib/result"
	"github.com/btb-finance/clmm-core/lib/store"
	"github.com/btb-finance/clmm-core/lib/tickmath"
	ent "github.com/btb-finance/clmm-core/lib/transaction"
	"github.com/btb-finance/clmm-core/lib/transfer"

	ui "github.com/holiman/uint256"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clmm",
		Short:        "Concentrated liquidity pool engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("store-driver", config.DriverFile, "snapshot store (file, postgres, none)")
	root.PersistentFlags().String("store-dir", "./data/pools", "snapshot directory for the file store")
	root.PersistentFlags().String("postgres-dsn", "", "Postgres DSN for the postgres store")

	simulateCmd := &cobra.Command{
		Use:   "simulate <scenario.json>",
		Short: "Replay a scenario and print its report",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("out", "", "also write the report to this file")
	root.AddCommand(simulateCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <scenario.json>",
		Short: "Replay a scenario in memory, then quote a swap without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("pool", "", "pool name from the scenario")
	quoteCmd.Flags().String("token-in", "", "mint name being sold")
	quoteCmd.Flags().String("amount", "", "amount in, base units")
	root.AddCommand(quoteCmd)

	root.AddCommand(&cobra.Command{
		Use:   "pools",
		Short: "Restore every stored pool and print its state",
		Args:  cobra.NoArgs,
		RunE:  runPools,
	})

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Convert between ticks, sqrt prices and prices",
	}
	priceCmd.PersistentFlags().Int("decimals0", -1, "token0 decimals, defaults to pool.token_decimals0")
	priceCmd.PersistentFlags().Int("decimals1", -1, "token1 decimals, defaults to pool.token_decimals1")
	priceCmd.AddCommand(&cobra.Command{
		Use:   "tick <n>",
		Short: "Price at a tick",
		Args:  cobra.ExactArgs(1),
		RunE:  runPriceTick,
	})
	priceCmd.AddCommand(&cobra.Command{
		Use:   "sqrt <x64>",
		Short: "Price and tick of a Q64.64 sqrt price",
		Args:  cobra.ExactArgs(1),
		RunE:  runPriceSqrt,
	})
	root.AddCommand(priceCmd)

	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openStore returns the configured snapshot store, or nil for "none".
func openStore(ctx context.Context, cfg config.Config) (manager.Snapshotter, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		s, err := store.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, func() {}, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sc, err := ent.Load(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	snapshots, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	ledger := transfer.NewLedger()
	m := manager.New(ledger, snapshots, logger)
	opts := executor.Options{Decimals0: cfg.TokenDecimals0, Decimals1: cfg.TokenDecimals1}
	report, err := executor.New(m, ledger, opts, logger).Run(ctx, sc)
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if err := writeJSON(cmd, report); err != nil {
		return err
	}
	if !report.Passed() {
		return fmt.Errorf("%d of %d steps did not go as expected", report.Failed, len(report.Steps))
	}
	return nil
}

type quoteOutput struct {
	Pool         string `json:"pool"`
	TokenIn      string `json:"token_in"`
	AmountIn     string `json:"amount_in"`
	AmountOut    string `json:"amount_out"`
	FeeAmount    string `json:"fee_amount"`
	ProtocolFee  string `json:"protocol_fee"`
	SqrtPriceX64 string `json:"sqrt_price_x64"`
	TickCurrent  int32  `json:"tick_current"`
	TicksCrossed int    `json:"ticks_crossed"`
}

func runQuote(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	poolName, _ := cmd.Flags().GetString("pool")
	tokenIn, _ := cmd.Flags().GetString("token-in")
	rawAmount, _ := cmd.Flags().GetString("amount")
	amountIn, err := ui.FromDecimal(rawAmount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", rawAmount, err)
	}

	sc, err := ent.Load(args[0])
	if err != nil {
		return err
	}
	ledger := transfer.NewLedger()
	opts := executor.Options{Decimals0: cfg.TokenDecimals0, Decimals1: cfg.TokenDecimals1}
	exec := executor.New(manager.New(ledger, nil, logger), ledger, opts, logger)
	if _, err := exec.Run(cmd.Context(), sc); err != nil {
		return err
	}

	res, err := exec.Quote(poolName, tokenIn, amountIn)
	if err != nil {
		return err
	}
	return writeJSON(cmd, quoteOutput{
		Pool:         poolName,
		TokenIn:      tokenIn,
		AmountIn:     res.AmountIn.Dec(),
		AmountOut:    res.AmountOut.Dec(),
		FeeAmount:    res.FeeAmount.Dec(),
		ProtocolFee:  res.ProtocolFee.Dec(),
		SqrtPriceX64: res.SqrtPriceX64.Dec(),
		TickCurrent:  res.TickCurrent,
		TicksCrossed: res.TicksCrossed,
	})
}

func runPools(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	snapshots, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	m := manager.New(transfer.NewLedger(), snapshots, logger)
	if _, err := m.Restore(ctx); err != nil {
		return err
	}
	summaries := make([]result.PoolSummary, 0)
	for _, id := range m.Pools() {
		p, err := m.Pool(id)
		if err != nil {
			return err
		}
		summaries = append(summaries, result.Summarize(id.String(), p, cfg.TokenDecimals0, cfg.TokenDecimals1, nil))
	}
	return writeJSON(cmd, summaries)
}

func priceDecimals(cmd *cobra.Command, cfg config.Config) (uint8, uint8, error) {
	d0, d1 := cfg.TokenDecimals0, cfg.TokenDecimals1
	for name, dst := range map[string]*uint8{"decimals0": &d0, "decimals1": &d1} {
		v, _ := cmd.Flags().GetInt(name)
		if v < 0 {
			continue
		}
		if v > 38 {
			return 0, 0, fmt.Errorf("%s %d out of range", name, v)
		}
		*dst = uint8(v)
	}
	return d0, d1, nil
}

func runPriceTick(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	d0, d1, err := priceDecimals(cmd, cfg)
	if err != nil {
		return err
	}

	tick, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("tick %q: %w", args[0], err)
	}
	sqrtPrice, err := tickmath.TickToSqrtPriceX64(int32(tick))
	if err != nil {
		return err
	}
	return writeJSON(cmd, map[string]any{
		"tick":           tick,
		"sqrt_price_x64": sqrtPrice.Dec(),
		"price":          prices.SqrtPriceX64ToPrice(sqrtPrice, d0, d1).String(),
	})
}

func runPriceSqrt(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	d0, d1, err := priceDecimals(cmd, cfg)
	if err != nil {
		return err
	}

	sqrtPrice, err := ui.FromDecimal(args[0])
	if err != nil {
		return fmt.Errorf("sqrt price %q: %w", args[0], err)
	}
	tick, err := tickmath.SqrtPriceX64ToTick(sqrtPrice)
	if err != nil {
		return err
	}
	return writeJSON(cmd, map[string]any{
		"tick":           tick,
		"sqrt_price_x64": sqrtPrice.Dec(),
		"price":          prices.SqrtPriceX64ToPrice(sqrtPrice, d0, d1).String(),
	})
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
