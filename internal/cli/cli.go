// Package cli implements the mlflowbox command line.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/everydev1618/mlflowbox"
	"github.com/everydev1618/mlflowbox/config"
	"github.com/everydev1618/mlflowbox/container"
	"github.com/everydev1618/mlflowbox/journal"
)

// serverManager is the part of container.Manager the commands use.
type serverManager interface {
	EnsureRunning(ctx context.Context, spec container.Spec) (*container.Deployment, error)
	Stop(ctx context.Context, name string) container.TeardownResult
	Status(ctx context.Context, name string) (*container.Status, error)
	Close() error
}

// App represents the CLI application with all wired dependencies
type App struct {
	// Root command
	rootCmd *cobra.Command

	// Flags
	envFile     string
	journalPath string
	verbose     bool

	// Dependencies, replaceable in tests
	newManager  func(pull bool) (serverManager, error)
	openJournal func(path string) (journal.Store, error)
	trackerOpts []mlflowbox.TrackerOption

	// Version information
	versionInfo VersionInfo
}

// VersionInfo holds build metadata.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// New creates a new CLI application
func New() *App {
	app := &App{
		newManager: func(pull bool) (serverManager, error) {
			return container.NewManager(container.WithPullMissing(pull))
		},
		openJournal: func(path string) (journal.Store, error) {
			return journal.NewSQLiteStore(path)
		},
	}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application. SIGINT and SIGTERM cancel the command's
// context.
func (a *App) Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string for the version command
func (a *App) SetVersion(version, commit, date string) {
	a.versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// setupRootCmd configures the root Cobra command
func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "mlflowbox",
		Short: "Run a local MLflow tracking server in Docker",
		Long: `mlflowbox keeps a single MLflow tracking server container running
against a host data directory, and records tracked runs against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setupLogging(cmd)
		},
	}

	a.rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", config.DefaultEnvFile,
		"Env file with MLFLOW_* settings")
	a.rootCmd.PersistentFlags().StringVar(&a.journalPath, "journal", mlflowbox.DefaultJournalPath(),
		"Local run journal (empty disables)")
	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")

	a.rootCmd.AddCommand(
		NewStartCmd(a),
		NewStopCmd(a),
		NewStatusCmd(a),
		NewConfigCmd(a),
		NewDemoCmd(a),
		NewSmokeCmd(a),
		NewRunsCmd(a),
		NewVersionCmd(a),
	)
}

func (a *App) setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.Load(a.envFile)
}

// tracker builds a Tracker from the env file, with the journal attached
// when one is configured. The returned func closes the journal.
func (a *App) tracker(cfg *config.Config) (*mlflowbox.Tracker, func()) {
	opts := append([]mlflowbox.TrackerOption(nil), a.trackerOpts...)
	cleanup := func() {}

	if a.journalPath != "" {
		store, err := a.openJournal(a.journalPath)
		if err != nil {
			slog.Warn("journal unavailable", "path", a.journalPath, "error", err)
		} else {
			opts = append(opts, mlflowbox.WithJournal(store))
			cleanup = func() { store.Close() }
		}
	}

	return mlflowbox.NewTracker(cfg.TrackerConfig(), opts...), cleanup
}
