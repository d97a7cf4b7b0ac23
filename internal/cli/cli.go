// Package cli provides the carbonctl command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/credo/carbon-engine/internal/config"
	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/engine"
	"github.com/credo/carbon-engine/internal/feed"
	"github.com/credo/carbon-engine/internal/logging"
	"github.com/credo/carbon-engine/internal/model"
	"github.com/credo/carbon-engine/internal/scenario"
)

// NewRootCmd builds the carbonctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "carbonctl",
		Short:         "Offline tools for the carbon trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			logger, _ := logging.NewTo(config.LogConfig{Level: level}, cmd.ErrOrStderr())
			slog.SetDefault(logger)
		},
	}
	root.PersistentFlags().String("log-level", "error", "Engine log level written to stderr (debug, info, warn, error)")

	root.AddCommand(newReplayCmd())
	root.AddCommand(newSimulateCmd())
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted scenario through a fresh engine",
		Long: `Run a YAML scenario of deposits, orders, alerts, ticks and retirements
through a fresh in-memory engine and print the step log and final snapshot
as JSON.`,
		Example: `  carbonctl replay scenarios/stop_loss.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sc, err := scenario.Load(f)
			if err != nil {
				return err
			}
			eng, err := freshEngine(cmd.Context(), sc.Owner, sc.StartingBalance)
			if err != nil {
				return err
			}
			res, err := scenario.Run(cmd.Context(), eng, sc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// SimulationReport is printed by the simulate command.
type SimulationReport struct {
	Seed        int64                      `json:"seed"`
	Ticks       int                        `json:"ticks"`
	Fills       int                        `json:"fills"`
	AlertsFired int                        `json:"alerts_fired"`
	Setup       []scenario.StepResult      `json:"setup,omitempty"`
	FinalPrices map[string]decimal.Decimal `json:"final_prices"`
	Snapshot    model.Snapshot             `json:"snapshot"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a seeded account with the synthetic price feed",
		Long: `Generate a deterministic random walk for the catalog assets and feed it
through a fresh engine. An optional scenario is applied first, so its orders
and alerts react to the simulated prices.`,
		Example: `  carbonctl simulate --rounds 500 --seed 7
  carbonctl simulate --scenario scenarios/bracket.yaml --asset amazon-redd
  carbonctl simulate --ticks recorded.yaml --scenario scenarios/bracket.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, _ := cmd.Flags().GetInt("rounds")
			seed, _ := cmd.Flags().GetInt64("seed")
			volRaw, _ := cmd.Flags().GetString("volatility")
			balRaw, _ := cmd.Flags().GetString("balance")
			assets, _ := cmd.Flags().GetStringSlice("asset")
			setupPath, _ := cmd.Flags().GetString("scenario")
			ticksPath, _ := cmd.Flags().GetString("ticks")

			if rounds <= 0 {
				return fmt.Errorf("--rounds must be positive")
			}
			vol, err := decimal.NewFromString(volRaw)
			if err != nil {
				return fmt.Errorf("--volatility: %w", err)
			}
			balance, err := decimal.NewFromString(balRaw)
			if err != nil {
				return fmt.Errorf("--balance: %w", err)
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), simulation{
				rounds: rounds, seed: seed, volatility: vol,
				balance: balance, assets: assets, setupPath: setupPath, ticksPath: ticksPath,
			})
		},
	}
	cmd.Flags().Int("rounds", 100, "Number of rounds; each round ticks every selected asset once")
	cmd.Flags().Int64("seed", 1, "Random walk seed")
	cmd.Flags().String("volatility", "0.02", "Maximum per-tick move as a fraction of price")
	cmd.Flags().String("balance", "10000", "Starting cash balance")
	cmd.Flags().StringSlice("asset", nil, "Asset ids to simulate (default: whole catalog)")
	cmd.Flags().String("scenario", "", "Scenario applied before the simulated ticks")
	cmd.Flags().String("ticks", "", "Replay recorded ticks from a YAML file instead of the random walk")
	return cmd
}

type simulation struct {
	rounds     int
	seed       int64
	volatility decimal.Decimal
	balance    decimal.Decimal
	assets     []string
	setupPath  string
	ticksPath  string
}

func simulate(ctx context.Context, out io.Writer, sim simulation) error {
	owner := ""
	var setup *scenario.Scenario
	if sim.setupPath != "" {
		f, err := os.Open(sim.setupPath)
		if err != nil {
			return err
		}
		setup, err = scenario.Load(f)
		f.Close()
		if err != nil {
			return err
		}
		owner = setup.Owner
	}

	eng, err := freshEngine(ctx, owner, sim.balance)
	if err != nil {
		return err
	}
	catalog := credit.Default()
	assets := sim.assets
	if len(assets) == 0 {
		assets = catalog.IDs()
	}
	start := make(map[string]decimal.Decimal, len(assets))
	for _, id := range assets {
		a, err := catalog.Get(id)
		if err != nil {
			return err
		}
		start[id] = a.Price
	}

	report := SimulationReport{Seed: sim.seed, FinalPrices: make(map[string]decimal.Decimal)}
	if setup != nil {
		res, err := scenario.Run(ctx, eng, setup)
		if err != nil {
			return err
		}
		report.Setup = res.Steps
		// Continue the walk from wherever the setup left prices.
		for _, id := range assets {
			if p, ok := eng.Price(id); ok {
				start[id] = p
			}
		}
	}

	src, err := sim.source(start)
	if err != nil {
		return err
	}
	var tickErr error
	err = src.Run(ctx, assets, func(tk model.Tick) {
		if tickErr != nil {
			return
		}
		tr, err := eng.ProcessTick(ctx, tk)
		if err != nil {
			tickErr = fmt.Errorf("tick %s: %w", tk.AssetID, err)
			return
		}
		report.Ticks++
		report.Fills += len(tr.Fills)
		report.AlertsFired += len(tr.Alerts)
		report.FinalPrices[tk.AssetID] = tk.Price
	})
	if err != nil {
		return err
	}
	if tickErr != nil {
		return tickErr
	}
	report.Snapshot = eng.Snapshot()
	return printJSON(out, report)
}

// source replays the tick file when one is given, otherwise pre-generates the
// seeded walk so the run does not wait on a ticker.
func (sim simulation) source(start map[string]decimal.Decimal) (feed.Source, error) {
	if sim.ticksPath != "" {
		f, err := os.Open(sim.ticksPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		ticks, err := feed.LoadTicks(f)
		if err != nil {
			return nil, err
		}
		return &feed.ReplaySource{Ticks: ticks}, nil
	}

	assets := make([]string, 0, len(start))
	for id := range start {
		assets = append(assets, id)
	}
	sort.Strings(assets)
	walk := &feed.SyntheticSource{Seed: sim.seed, Volatility: sim.volatility, Start: start}
	return &feed.ReplaySource{Ticks: walk.Generate(assets, sim.rounds, time.Now().UTC())}, nil
}

func freshEngine(ctx context.Context, owner string, balance decimal.Decimal) (*engine.Engine, error) {
	eng := engine.New(credit.Default(), engine.Options{Owner: owner, StartingBalance: balance})
	if err := eng.Restore(ctx); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
