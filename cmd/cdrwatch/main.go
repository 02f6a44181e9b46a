package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cdrwatch/internal/config"
	"cdrwatch/internal/portal"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Fetch flags
	startDate string
	endDate   string
	callType  string
	filter    string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cdrwatch",
	Short: "cdrwatch - PABX outbound-call report acquisition",
	Long: `cdrwatch retrieves outbound-call reports from the PABX operator
portal through an automated browser session, with a direct-HTTP
fallback replaying the captured session cookies.

Reports are parsed into normalized call records and aggregated into
per-extension, per-subtype and per-hour statistics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// fetchCmd retrieves the raw call records for a date range
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch outbound-call records for a date range",
	Long: `Fetches the outbound-calls report page by page and prints the
parsed records as JSON. Dates accept ISO (2026-08-15) or portal
(15/08/2026) form; both default to today.`,
	RunE: runFetch,
}

// summaryCmd aggregates the records into statistics
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Fetch records and print aggregated statistics",
	RunE:  runSummary,
}

// extensionsCmd lists the known extensions
var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "List known extensions (configured plus observed today)",
	RunE:  runExtensions,
}

// statusCmd prints the subsystem snapshot
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print configuration, session and cache status",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	for _, cmd := range []*cobra.Command{fetchCmd, summaryCmd} {
		cmd.Flags().StringVar(&startDate, "start", "", "start date (default today)")
		cmd.Flags().StringVar(&endDate, "end", "", "end date (default today)")
		cmd.Flags().StringVar(&callType, "type", "", "portal call-type code (default all)")
		cmd.Flags().StringVar(&filter, "filter", "", "free-text filter forwarded to the portal")
	}

	rootCmd.AddCommand(fetchCmd, summaryCmd, extensionsCmd, statusCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cdrwatch.yaml"
	}
	return home + "/.cdrwatch/config.yaml"
}

// newService loads configuration and wires the acquisition stack.
func newService() (*portal.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return portal.NewService(cfg, logger), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFetch(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	records, err := svc.GetRecords(ctx, startDate, endDate, callType, filter)
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}
	return printJSON(records)
}

func runSummary(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := svc.GetSummary(ctx, startDate, endDate, callType, filter)
	if err != nil {
		return fmt.Errorf("fetch summary: %w", err)
	}
	return printJSON(summary)
}

func runExtensions(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	return printJSON(svc.ListExtensions(ctx))
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	return printJSON(svc.Status())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
