// foolscrate keeps a fleet of directories synchronized through a shared
// git remote. Each machine holds a full replica; syncing is a bounded
// loop of fetch, commit, merge and push against a common integration
// branch, with per-client refs so every machine can always publish its
// own state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foolscrate/foolscrate/internal/agent"
	"github.com/foolscrate/foolscrate/internal/config"
	"github.com/foolscrate/foolscrate/internal/registry"
	"github.com/foolscrate/foolscrate/internal/replica"
	"github.com/foolscrate/foolscrate/internal/svc"
	"github.com/foolscrate/foolscrate/internal/sweep"
	"github.com/foolscrate/foolscrate/pkg/report"
)

// Version information set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes returned to the shell so cron jobs and wrapper scripts can
// tell failure classes apart.
const (
	exitOK       = 0
	exitGeneric  = 1
	exitInvalid  = 2
	exitSync     = 3
	exitConflict = 4
	exitLocked   = 5
)

var (
	cfgFile    string
	logLevel   string
	serviceRun bool
	statusJSON bool
	initOutput string
)

func main() {
	// When launched by the service manager, skip cobra entirely.
	if svc.IsServiceMode(os.Args[1:]) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "foolscrate",
		Short: "Sync directories across machines through a git remote",
		Long: `Foolscrate keeps directories synchronized across machines using a shared
git remote as the transport. Every machine holds a complete replica and
periodically reconciles it: local changes are committed automatically,
remote changes are merged, and the result is pushed back.

When an automatic merge fails, syncing for that replica is suspended and a
CONFLICT_MUST_MANUALLY_MERGE file is left in it until a human resolves the
merge and removes the file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to agent config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	createCmd := &cobra.Command{
		Use:   "create <directory> <remote-url>",
		Short: "Create a new replica and push its first commit",
		Args:  cobra.ExactArgs(2),
		RunE:  runCreate,
	}

	connectCmd := &cobra.Command{
		Use:   "connect <directory> <remote-url>",
		Short: "Connect a directory to an already-populated remote",
		Args:  cobra.ExactArgs(2),
		RunE:  runConnect,
	}

	syncCmd := &cobra.Command{
		Use:   "sync <directory>",
		Short: "Synchronize a single replica with its remote",
		Args:  cobra.ExactArgs(1),
		RunE:  runSync,
	}

	trackCmd := &cobra.Command{
		Use:   "track <directory>",
		Short: "Add a replica to the tracked set",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrack,
	}

	untrackCmd := &cobra.Command{
		Use:   "untrack <directory>",
		Short: "Remove a replica from the tracked set",
		Args:  cobra.ExactArgs(1),
		RunE:  runUntrack,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every tracked replica",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit status as JSON")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example agent configuration file",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	initCmd.Flags().StringVarP(&initOutput, "output", "o", ".", "directory to write the config file to")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("foolscrate %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newSyncAllCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newCronCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit code. Wrapped errors are
// unwrapped so callers can rely on the code regardless of how deep the
// cause sits.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var invalidErr *replica.InvalidReplicaError
	var syncErr *replica.SyncError
	switch {
	case errors.As(err, &invalidErr):
		return exitInvalid
	case errors.As(err, &syncErr):
		return exitSync
	case errors.Is(err, replica.ErrConflictPending):
		return exitConflict
	case errors.Is(err, replica.ErrLockBusy):
		return exitLocked
	default:
		return exitGeneric
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := replica.CreateNew(ctx, args[0], args[1], reg, opts.Replica)
	if err != nil {
		return err
	}

	fmt.Printf("Created replica %s\n", r.Dir)
	fmt.Printf("  Client ID: %s\n", r.ClientID)
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := replica.ConnectExisting(ctx, args[0], args[1], reg, opts.Replica)
	if err != nil {
		return err
	}

	fmt.Printf("Connected replica %s\n", r.Dir)
	fmt.Printf("  Client ID: %s\n", r.ClientID)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := replica.Open(ctx, args[0], reg, opts.Replica)
	if err != nil {
		return err
	}
	if err := r.Sync(ctx); err != nil {
		return err
	}

	fmt.Printf("Synced %s\n", r.Dir)
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := replica.Open(ctx, args[0], reg, opts.Replica)
	if err != nil {
		return err
	}
	if err := r.Track(ctx); err != nil {
		return err
	}

	fmt.Printf("Tracking %s\n", r.Dir)
	return nil
}

func runUntrack(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, _, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	if err := reg.Remove(ctx, dir); err != nil {
		return err
	}

	fmt.Printf("No longer tracking %s\n", dir)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	_, reg, opts, err := buildEnv()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	dirs, err := reg.List(ctx)
	if err != nil {
		return err
	}

	statuses := make([]report.ReplicaStatus, 0, len(dirs))
	for _, dir := range dirs {
		statuses = append(statuses, replicaStatus(ctx, dir, reg, opts.Replica))
	}

	if statusJSON {
		out, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(statuses) == 0 {
		fmt.Println("No tracked replicas.")
		return nil
	}
	for _, st := range statuses {
		fmt.Printf("%s\n", st.Dir)
		if st.ClientID != "" {
			fmt.Printf("  Client ID: %s\n", st.ClientID)
		}
		fmt.Printf("  State:     %s\n", describeStatus(st))
	}
	return nil
}

func replicaStatus(ctx context.Context, dir string, reg *registry.Registry, opts replica.Options) report.ReplicaStatus {
	st := report.ReplicaStatus{Dir: dir}
	if _, err := os.Stat(dir); err == nil {
		st.Exists = true
	}
	r, err := replica.Open(ctx, dir, reg, opts)
	if err != nil {
		var invalidErr *replica.InvalidReplicaError
		if errors.As(err, &invalidErr) {
			st.Invalid = invalidErr.Reason
		} else {
			st.Invalid = err.Error()
		}
		return st
	}
	st.ClientID = r.ClientID
	st.ConflictPending = r.ConflictPending()
	return st
}

func describeStatus(st report.ReplicaStatus) string {
	switch {
	case !st.Exists:
		return "missing"
	case st.Invalid != "":
		return fmt.Sprintf("invalid (%s)", st.Invalid)
	case st.ConflictPending:
		return "conflict pending, sync suspended"
	default:
		return "ok"
	}
}

const exampleConfig = `# Foolscrate agent configuration.
# All settings are optional; the values below are the defaults.

# Log level for the agent: trace, debug, info, warn, error.
log_level: info

registry:
  # File listing the tracked replica directories.
  # path: ~/.foolscrate/registry.yaml
  # lock_path: ~/.foolscrate/registry.lock

sync:
  # How often the agent sweeps all tracked replicas.
  interval: 1m
  # Reconciliation attempts per replica before giving up.
  attempts: 5
  # Wait between merge attempts.
  merge_backoff: 1s
  # Random pause before each sweep, spreading load across the fleet.
  jitter_min: 1s
  jitter_max: 4s

watch:
  # Also sweep shortly after a tracked directory changes on disk.
  enabled: false
  # How long to wait for changes to settle before sweeping.
  debounce: 2s

metrics:
  # Serve Prometheus metrics and a health endpoint.
  enabled: false
  listen: 127.0.0.1:9321
`

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(initOutput, "agent.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.MkdirAll(initOutput, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote example config to %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Create or connect a replica:")
	fmt.Println("       foolscrate create ~/notes git@example.com:me/notes.git")
	fmt.Printf("  2. Run the agent: foolscrate agent --config %s\n", path)
	fmt.Println("     or install the cron entry: foolscrate cron install")
	return nil
}

// loadConfig reads the agent config. Without an explicit --config flag
// the default path is used only when the file actually exists, so plain
// CLI usage works with no config at all.
func loadConfig() (*config.AgentConfig, error) {
	path := cfgFile
	if path == "" {
		def, err := config.DefaultPath()
		if err == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEnv assembles the pieces every command needs from the config.
func buildEnv() (*config.AgentConfig, *registry.Registry, sweep.Options, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, sweep.Options{}, err
	}
	applyConfigLogLevel(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
		return nil, nil, sweep.Options{}, fmt.Errorf("create registry directory: %w", err)
	}

	opts, err := agent.SweepOptions(cfg)
	if err != nil {
		return nil, nil, sweep.Options{}, err
	}

	reg := registry.New(cfg.Registry.Path, cfg.Registry.LockPath, registry.DefaultLockTimeout)
	return cfg, reg, opts, nil
}

// applyConfigLogLevel honors the config file's log level unless the user
// passed --log-level explicitly.
func applyConfigLogLevel(cfg *config.AgentConfig) {
	if logLevel != "info" || cfg.LogLevel == "" {
		return
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM so a
// sync in flight can release its locks before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func logStartupBanner() {
	fmt.Fprintf(os.Stderr, "foolscrate %s\n", Version)
	fmt.Fprintf(os.Stderr, "  Commit:     %s\n", Commit)
	fmt.Fprintf(os.Stderr, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(os.Stderr, "  Go Version: %s\n", runtime.Version())
	fmt.Fprintf(os.Stderr, "  OS/Arch:    %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
}
