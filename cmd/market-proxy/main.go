// Command market-proxy serves cached creator-coin market data over HTTP and
// runs one-shot lookups from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/config"
	"github.com/Sternrassler/coin-market-cache/pkg/logging"
	"github.com/Sternrassler/coin-market-cache/pkg/market"
	"github.com/Sternrassler/coin-market-cache/pkg/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the root command and returns the process exit code.
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "market-proxy",
		Short:        "Cached creator-coin market data service",
		Long:         "market-proxy caches chart data, price history, the live reference price and search results for creator coins.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a JSON config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newPriceCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newChartCmd(opts))
	root.AddCommand(newSearchCmd(opts))
	root.AddCommand(newCooldownCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// setup loads the config, configures logging and wires the app.
func setup(ctx context.Context, opts *rootOptions) (*app, config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, config.Config{}, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.FromConfig(cfg.Log.Level, cfg.Log.Pretty))

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return nil, config.Config{}, zerolog.Logger{}, err
	}
	return a, cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cfg, logger, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info().
				Str("cache_layer", a.store.Layer()).
				Strs("quote_sources", a.resolver.Sources()).
				Msg("Market data service configured")

			return server.New(a.market, a.store, logging.Component(logger, "server")).ListenAndServe(ctx, cfg.ListenAddr)
		},
	}
}

func newPriceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "price",
		Short: "Resolve the live reference price once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			price, err := a.market.LiveReferencePrice(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), price)
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var chainID, timeframe string

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Print a coin's price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.market.PriceHistory(cmd.Context(), market.PriceHistoryRequest{
				Address:   args[0],
				ChainID:   chainID,
				Timeframe: timeframe,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain id (default from config)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1D", "one of 1D, 1W, 1M, 3M, 1Y, ALL")
	return cmd
}

func newChartCmd(opts *rootOptions) *cobra.Command {
	var network, timeframe string
	var preferred []string

	cmd := &cobra.Command{
		Use:   "chart <contract-address>",
		Short: "Print a token's pool chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.market.ChartData(cmd.Context(), market.ChartRequest{
				ContractAddress:     args[0],
				Network:             network,
				Timeframe:           timeframe,
				PreferredBaseTokens: preferred,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "network (default from config)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1D", "one of 1D, 1W, 1M, 3M, 1Y, ALL")
	cmd.Flags().StringSliceVar(&preferred, "preferred-base-tokens", nil, "quote token symbols or addresses, most preferred first")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search coins and profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.market.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

// cooldownStatus is the JSON shape printed by "cooldown status".
type cooldownStatus struct {
	Upstream string     `json:"upstream"`
	Active   bool       `json:"active"`
	Until    *time.Time `json:"until,omitempty"`
}

func newCooldownCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cooldown",
		Short: "Inspect or lift upstream rate-limit cooldowns",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <upstream>",
		Short: "Show whether an upstream is cooling down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			status := cooldownStatus{Upstream: args[0]}
			if state, ok := a.tracker.GetState(cmd.Context(), args[0]); ok {
				status.Active = true
				status.Until = &state.Until
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <upstream>",
		Short: "Lift an upstream's cooldown before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			a.tracker.Reset(cmd.Context(), args[0])
			return printJSON(cmd.OutOrStdout(), cooldownStatus{Upstream: args[0]})
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print market-proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "market-proxy version %s\n", version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
