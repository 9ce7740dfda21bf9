package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fibhost/cmd/fibhost/ui"
	"fibhost/internal/binding"
	"fibhost/internal/config"
	"fibhost/internal/logging"
	"fibhost/internal/script"
	"fibhost/internal/store"
	"fibhost/internal/wasm"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration
	noJournal  bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logs   *logging.Logger
	logger *zap.Logger
	styles ui.Styles
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fibhost",
	Short: "fibhost - host-callable Fibonacci bindings",
	Long: `fibhost exposes a naive recursive Fibonacci function under the export
name "fibonacci" and calls it from several hosts:

  - natively, through the binding export table
  - from Go scripts evaluated by an embedded interpreter
  - from WebAssembly guests run by an embedded runtime
  - from <script> elements inside SVG pages

Every call can be recorded in a local sqlite journal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
			workspace = cwd
		}
		if configPath == "" {
			configPath = filepath.Join(workspace, config.DefaultPath)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(workspace); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		cfg = loaded

		logs, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logger = logs.Get(logging.CategoryBoot)
		logger.Debug("Config loaded", zap.String("path", configPath), zap.String("workspace", workspace))

		styles = ui.DefaultStyles()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&noJournal, "no-journal", false, "Do not record calls in the journal")

	// Command flags
	tableCmd.Flags().Int32("from", 0, "First index")
	tableCmd.Flags().Int32("to", 20, "Last index (inclusive)")
	tableCmd.Flags().Int("workers", 4, "Concurrent evaluations")
	wasmCmd.Flags().String("module", "", "Guest module (default: config wasm.module_path, else the built-in module)")
	wasmCmd.Flags().String("export", "", "Export to call (default: config wasm.export)")
	renderCmd.Flags().StringP("output", "o", "", "Write the rendered page here (default: stdout)")
	renderCmd.Flags().Bool("watch", false, "Re-render whenever the page changes (requires --output)")
	renderCmd.Flags().StringSlice("lang", nil, "Languages to execute, in order (default: config document.languages)")
	bindingsCmd.Flags().Bool("markdown", false, "Render as formatted markdown")
	historyCmd.Flags().Int("limit", 20, "Number of entries to show")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	// Add commands to root
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(tableCmd)
	rootCmd.AddCommand(bindingsCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(wasmCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// commandContext returns a context bounded by --timeout and cancelled on
// SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// openJournal opens the configured journal, or returns nil when recording
// is disabled.
func openJournal() (*store.Journal, error) {
	if noJournal || !cfg.Store.Enabled {
		return nil, nil
	}
	j, err := store.Open(resolvePath(cfg.Store.DatabasePath), logs.Get(logging.CategoryStore))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	logger.Debug("Journal opened", zap.String("path", j.Path()))
	return j, nil
}

// session bundles what most commands need. Close releases the journal.
type session struct {
	registry *binding.Registry
	journal  *store.Journal
}

// newSession builds the default registry and hooks it to the journal,
// tagging recorded calls with source.
func newSession(source string) (*session, error) {
	s := &session{registry: binding.Default(logs.Get(logging.CategoryBinding))}

	j, err := openJournal()
	if err != nil {
		return nil, err
	}
	if j != nil {
		s.journal = j
		s.registry.OnCall(j.Observer(source))
	}
	return s, nil
}

func (s *session) Close() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
}

func (s *session) executor() *script.Executor {
	return script.NewExecutor(s.registry,
		script.WithImportPath(cfg.Script.ImportPath),
		script.WithAllowedPackages(cfg.Script.AllowedPackages...),
		script.WithTimeout(cfg.GetScriptTimeout()),
		script.WithLogger(logs.Get(logging.CategoryScript)),
	)
}

func wasmConfig() wasm.Config {
	return wasm.Config{
		MemoryLimitPages: cfg.Wasm.MemoryLimitPages,
		Logger:           logs.Get(logging.CategoryWasm),
	}
}
