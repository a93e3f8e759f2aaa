package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/config"
	"github.com/zen-systems/tiergate/pkg/delegate"
	"github.com/zen-systems/tiergate/pkg/metrics"
	"github.com/zen-systems/tiergate/pkg/pool"
	"github.com/zen-systems/tiergate/pkg/trace"
)

var (
	configFile string
	aliases    *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tiergate",
		Short: "Delegation and routing engine for tiered LLM backends",
		Long: `Tiergate classifies a query, optionally decomposes it into a
	dependency-ordered set of subtasks, and executes it across a pool of
	tiered inference backends with circuit breaking, rate limiting, and
	self-consistency verification.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var traceFlag bool
	var outFlag string
	var verboseFlag bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one query through the delegation engine",
		Long: `Classifies the query, decomposes it when complexity warrants,
	executes the subtask graph against the configured tiers, and prints the
	verified answer.

	Use --trace to dump the dispatch trace as JSON on stderr.
	Use --out to persist the run record and trace under a directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			p, err := buildPool(cfg, metrics.Default())
			if err != nil {
				return fmt.Errorf("failed to build backend pool: %w", err)
			}
			if len(p.Tiers()) == 0 {
				return fmt.Errorf("no backends available: set at least one provider API key")
			}

			mgr, err := delegate.NewManager(p, cfg, metrics.Default())
			if err != nil {
				return err
			}
			if verboseFlag {
				mgr.Logf = log.Printf
			}

			result, err := mgr.HandleQuery(context.Background(), query)
			if result != nil {
				reportRun(query, result, traceFlag, outFlag)
			}
			if err != nil {
				return err
			}

			fmt.Println(result.Answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&traceFlag, "trace", false, "print the dispatch trace as JSON on stderr")
	cmd.Flags().StringVar(&outFlag, "out", "", "directory to persist run.json and trace.jsonl")
	cmd.Flags().BoolVar(&verboseFlag, "verbose", false, "log lifecycle diagnostics")

	return cmd
}

// reportRun emits the confidence summary and optionally persists the run.
func reportRun(query string, result *delegate.Result, traceFlag bool, outDir string) {
	fmt.Fprintf(os.Stderr, "task=%s complexity=%.2f subtasks=%d confidence=%.2f cost=$%.4f\n",
		result.TaskType, result.Complexity, result.SubtaskCount,
		result.Confidence, result.Trace.TotalCost())
	if result.Partial {
		fmt.Fprintln(os.Stderr, "warning: partial result, one or more subtasks failed")
	}
	if result.ToolVerification != nil {
		status := "failed"
		if result.ToolVerification.Passed {
			status = "passed"
		}
		fmt.Fprintf(os.Stderr, "tool verification %s: %s\n",
			status, strings.Join(result.ToolVerification.Command, " "))
	}
	if result.NeedsToolVerification {
		fmt.Fprintln(os.Stderr, "warning: low agreement across samples, answer may need tool verification")
	}

	if traceFlag {
		data, err := json.MarshalIndent(result.Trace.Entries(), "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, string(data))
		}
	}

	if outDir != "" {
		if err := persistRun(query, result, outDir); err != nil {
			fmt.Fprintf(os.Stderr, "failed to persist run: %v\n", err)
		}
	}
}

func persistRun(query string, result *delegate.Result, outDir string) error {
	w, err := trace.NewWriter(outDir, uuid.NewString())
	if err != nil {
		return err
	}
	record := trace.RunRecord{
		ID:            uuid.NewString(),
		Query:         query,
		TaskType:      result.TaskType,
		Complexity:    result.Complexity,
		SubtaskCount:  result.SubtaskCount,
		Answer:        result.Answer,
		Confidence:    result.Confidence,
		TotalCostUSD:  result.Trace.TotalCost(),
		DurationMs:    result.Duration.Milliseconds(),
		PartialResult: result.Partial,
	}
	if err := w.WriteRun(record); err != nil {
		return err
	}
	if err := w.WriteTrace(result.Trace); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "run persisted to %s\n", w.RunDir())
	return nil
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the tier table and capability routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tPROVIDER\tMODEL\tCAPABILITIES")
			for _, tier := range []backend.Tier{backend.TierLight, backend.TierStandard, backend.TierHeavy, backend.TierUltra} {
				target, ok := cfg.Tiers[tier]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					tier, target.Provider, target.Model, formatList(target.Capabilities))
			}

			fmt.Fprintln(w)
			fmt.Fprintln(w, "CAPABILITY\tTIER PRIORITY")

			var capabilities []string
			for capability := range cfg.CapabilityTiers {
				capabilities = append(capabilities, capability)
			}
			sort.Strings(capabilities)

			for _, capability := range capabilities {
				tiers := ""
				for i, t := range cfg.CapabilityTiers[capability] {
					if i > 0 {
						tiers += " > "
					}
					tiers += string(t)
				}
				fmt.Fprintf(w, "%s\t%s\n", capability, tiers)
			}

			return w.Flush()
		},
	}
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show configured backends and their liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			p, err := buildPool(cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to build backend pool: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tPROVIDER\tMODEL\tSTATUS")
			for _, tier := range []backend.Tier{backend.TierLight, backend.TierStandard, backend.TierHeavy, backend.TierUltra} {
				target, ok := cfg.Tiers[tier]
				if !ok {
					continue
				}

				status := "no key"
				if p.Has(tier) {
					status = "ready"
					if err := p.Ping(cmd.Context(), tier); err != nil {
						status = fmt.Sprintf("unreachable: %v", err)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tier, target.Provider, target.Model, status)
			}

			return w.Flush()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the routing configuration",
		Long:  "Checks tier targets, capability tables, and model names without making any backend calls.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if errs := aliases.ValidateConfig(cfg); len(errs) > 0 {
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", e)
				}
				return fmt.Errorf("validation failed")
			}

			fmt.Println("Configuration is valid.")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, err = config.LoadAliasesWithFallback("configs/models.yaml")
	if err != nil || len(aliases.Providers) == 0 {
		aliases = config.DefaultAliases()
	}

	return cfg, nil
}

// buildPool registers one backend per configured tier, skipping tiers
// whose provider has no API key. Tiers sharing a provider share one
// backend instance.
func buildPool(cfg *config.Config, m *metrics.Metrics) (*pool.Pool, error) {
	p := pool.New(cfg, m)
	backends := make(map[backend.Provider]backend.Backend)

	for _, tier := range []backend.Tier{backend.TierLight, backend.TierStandard, backend.TierHeavy, backend.TierUltra} {
		target, ok := cfg.Tiers[tier]
		if !ok {
			continue
		}
		if !cfg.HasProvider(target.Provider) {
			fmt.Fprintf(os.Stderr, "skipping tier %s: no API key for %s\n", tier, target.Provider)
			continue
		}

		b, ok := backends[target.Provider]
		if !ok {
			var err error
			b, err = createBackend(cfg, target.Provider)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s backend: %w", target.Provider, err)
			}
			backends[target.Provider] = b
		}

		if err := p.Register(tier, b, target.Model); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func createBackend(cfg *config.Config, provider backend.Provider) (backend.Backend, error) {
	switch provider {
	case backend.ProviderAnthropic:
		return backend.NewAnthropicBackend(cfg.AnthropicAPIKey)
	case backend.ProviderOpenAI:
		return backend.NewOpenAIBackend(cfg.OpenAIAPIKey)
	case backend.ProviderGoogle:
		return backend.NewGoogleBackend(cfg.GoogleAPIKey)
	case backend.ProviderDeepSeek:
		return backend.NewDeepSeekBackend(cfg.DeepSeekAPIKey)
	case backend.ProviderMock:
		return backend.NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	result := items[0]
	for i := 1; i < len(items); i++ {
		result += ", " + items[i]
	}
	return result
}
