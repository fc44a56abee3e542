// Command replay feeds a recorded CSV fill stream through the matching engine
// and journals the resulting trading records.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coachpo/lotmatch/config"
	"github.com/coachpo/lotmatch/internal/journal"
	"github.com/coachpo/lotmatch/internal/replay"
	inttelemetry "github.com/coachpo/lotmatch/internal/telemetry"
	"github.com/coachpo/lotmatch/ledger"
	"github.com/coachpo/lotmatch/lib/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "Optional YAML configuration file")
		csvPath    = flag.String("csv", "", "CSV fill feed to replay (overrides config)")
		policy     = flag.String("policy", "", "Match policy: FIFO, LIFO, AVERAGE_COST or SPECIFIC_LOT (overrides config)")
		side       = flag.String("side", "", "Opening side: Buy or Sell (overrides config)")
		migrateUp  = flag.Bool("migrate", false, "Apply journal migrations before replaying")
	)
	flag.Parse()

	cfg := config.FromEnv()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.FromFile(cfg, *configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if strings.TrimSpace(*csvPath) != "" {
		cfg = config.Apply(cfg, config.WithReplaySource(*csvPath))
	}
	if strings.TrimSpace(*policy) != "" {
		parsed, err := ledger.ParseMatchPolicy(*policy)
		if err != nil {
			return err
		}
		cfg.Matching.Policy = parsed
	}
	if strings.TrimSpace(*side) != "" {
		parsed := ledger.Side(strings.TrimSpace(*side))
		if err := parsed.Validate(); err != nil {
			return err
		}
		cfg.Matching.OpeningSide = parsed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Replay.CSVPath) == "" {
		return errors.New("a fill feed is required (-csv flag, LOTMATCH_REPLAY_CSV or config)")
	}

	logger := log.New(os.Stdout, "lotmatch-replay ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger, *migrateUp)
	if err != nil {
		return err
	}
	defer closeStore()

	feed, err := os.Open(cfg.Replay.CSVPath)
	if err != nil {
		return fmt.Errorf("open fill feed: %w", err)
	}
	defer feed.Close()

	fills, err := replay.ReadFills(feed)
	if err != nil {
		return err
	}
	logger.Printf("replaying %d fills policy=%s side=%s", len(fills), cfg.Matching.Policy, cfg.Matching.OpeningSide)

	engine := replay.New(cfg, store, inttelemetry.NewEngineMetrics(), logger)
	summaries, err := engine.Run(ctx, fills)
	if err != nil {
		return err
	}

	for _, s := range summaries {
		logger.Printf("%s: accepted=%d rejected=%d closed=%d fees=%s net=%s open=%s",
			s.Symbol, s.Accepted, s.Rejected, s.Closed, s.TotalFees, s.NetProfit, s.OpenAmount)
	}
	logger.Printf("replay %s complete: %d symbols", engine.RunID(), len(summaries))
	return nil
}

func openStore(ctx context.Context, cfg config.Settings, logger *log.Logger, migrateUp bool) (journal.Store, func(), error) {
	dsn := strings.TrimSpace(cfg.Journal.DatabaseURL)
	if dsn == "" {
		logger.Printf("journal: in-memory (no database configured)")
		return journal.NewMemoryStore(), func() {}, nil
	}

	if migrateUp {
		if err := journal.ApplyMigrations(ctx, dsn, logger); err != nil {
			return nil, nil, err
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Journal.ConnectTimeout)
	defer cancel()
	store, err := journal.NewPostgresStore(dialCtx, dsn)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("journal: postgres")
	return store, store.Close, nil
}
