// Command admigrate copies a directory subtree between Active Directory
// environments. "export" captures an organizational unit, its child units,
// and its users, groups, and computers into a JSON snapshot; "import"
// replays a snapshot into a target unit on another (or the same) directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BOUILLOON/admigrate/internal/capture"
	"github.com/BOUILLOON/admigrate/internal/config"
	"github.com/BOUILLOON/admigrate/internal/directory"
	"github.com/BOUILLOON/admigrate/internal/history"
	"github.com/BOUILLOON/admigrate/internal/ldap"
	"github.com/BOUILLOON/admigrate/internal/replay"
	"github.com/BOUILLOON/admigrate/internal/snapshot"
)

const usage = `Usage:
  admigrate export --ou <path> --out <file>
  admigrate import --in <file> --target-ou <path> [--dry-run] [--preserve-hierarchy] [--workers N]

Connection settings come from the environment (or a .env file):
  ADMIGRATE_URL, ADMIGRATE_BASE_DN, ADMIGRATE_USERNAME, ADMIGRATE_PASSWORD,
  ADMIGRATE_KRB5_REALM, ADMIGRATE_KRB5_CONF, ADMIGRATE_KRB5_KEYTAB,
  ADMIGRATE_KRB5_CCACHE, ADMIGRATE_KRB5_SPN, ADMIGRATE_TIMEOUT,
  ADMIGRATE_INSECURE_TLS, ADMIGRATE_HISTORY_DSN
`

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "admigrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing subcommand")
	}

	switch os.Args[1] {
	case "export":
		return runExport(ctx, log, os.Args[2:])
	case "import":
		return runImport(ctx, log, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
}

func runExport(ctx context.Context, log *zap.Logger, args []string) error {
	flags := flag.NewFlagSet("export", flag.ExitOnError)
	ouPath := flags.String("ou", "", "path of the organizational unit to capture")
	outFile := flags.String("out", "", "snapshot file to write")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *ouPath == "" || *outFile == "" {
		flags.Usage()
		return fmt.Errorf("export requires --ou and --out")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir, closeClient, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeClient()

	started := time.Now()
	snap, err := capture.New(dir, log).Capture(ctx, *ouPath)
	if err != nil {
		return err
	}

	if err := snapshot.WriteFile(*outFile, snap); err != nil {
		return err
	}

	log.Info("snapshot written",
		zap.String("file", *outFile),
		zap.Int("units", len(snap.Units)),
		zap.Int("objects", len(snap.Objects)),
		zap.Int("memberships", len(snap.Memberships)))

	recordRun(ctx, cfg, log, history.Run{
		Mode:       "export",
		Source:     *ouPath,
		Created:    len(snap.Units) + len(snap.Objects),
		StartedAt:  started,
		FinishedAt: time.Now(),
	})

	return nil
}

func runImport(ctx context.Context, log *zap.Logger, args []string) error {
	flags := flag.NewFlagSet("import", flag.ExitOnError)
	inFile := flags.String("in", "", "snapshot file to read")
	targetOU := flags.String("target-ou", "", "path of the unit to replay into")
	dryRun := flags.Bool("dry-run", false, "report intended mutations without applying them")
	preserve := flags.Bool("preserve-hierarchy", false, "recreate the captured nesting instead of flattening")
	workers := flags.Int("workers", 1, "concurrent object creations in the object pass")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *inFile == "" || *targetOU == "" {
		flags.Usage()
		return fmt.Errorf("import requires --in and --target-ou")
	}

	snap, err := snapshot.ReadFile(*inFile)
	if err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		// Replay tolerates dangling membership references; surface them
		// but keep going.
		log.Warn("snapshot inconsistency", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir, closeClient, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeClient()

	engine := replay.New(dir, log, replay.Options{
		Simulate:          *dryRun,
		PreserveHierarchy: *preserve,
		Workers:           *workers,
	})

	started := time.Now()
	results, err := engine.Run(ctx, snap, *targetOU)
	if err != nil {
		return err
	}

	summary := replay.Summarize(results)
	fmt.Println(summary.String())

	mode := "import"
	if *dryRun {
		mode = "import-dry-run"
	}
	recordRun(ctx, cfg, log, history.Run{
		Mode:       mode,
		Source:     snap.RootPath(),
		Target:     *targetOU,
		Created:    summary.Created,
		Existing:   summary.Existing,
		Simulated:  summary.Simulated,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})

	return nil
}

// connect builds the LDAP client and directory service from the
// configuration. The returned func closes the underlying connection.
func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (directory.Service, func(), error) {
	client, err := ldap.NewClient(cfg.LDAPConfig(), log)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warn("close connection", zap.Error(err))
		}
	}

	return directory.New(client, log), closeClient, nil
}

// recordRun writes the run to the history database when one is configured.
// History is an audit aid; failures are logged, never fatal.
func recordRun(ctx context.Context, cfg *config.Config, log *zap.Logger, run history.Run) {
	if cfg.HistoryDSN == "" {
		return
	}

	store, err := history.Open(ctx, cfg.HistoryDSN, log)
	if err != nil {
		log.Warn("history database unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.RecordRun(ctx, run); err != nil {
		log.Warn("history record failed", zap.Error(err))
	}
}
