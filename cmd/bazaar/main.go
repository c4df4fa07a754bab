package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/erazemk/bazaar/internal/api"
	"github.com/erazemk/bazaar/internal/auth"
	"github.com/erazemk/bazaar/internal/coinhouse"
	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/events"
	"github.com/erazemk/bazaar/internal/reeve"
	"github.com/erazemk/bazaar/internal/shop"
	"github.com/erazemk/bazaar/internal/stall"
	"github.com/erazemk/bazaar/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

type options struct {
	dbPath     string
	addr       string
	logPath    string
	shopsDir   string
	amqpURL    string
	issueToken string
	scope      string
	rent       stall.Config
	restock    shop.RestockerConfig
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("bazaar", flag.ContinueOnError)
	rent := stall.DefaultConfig()
	restock := shop.DefaultRestockerConfig()
	var o options

	fs.StringVar(&o.dbPath, "db", "bazaar.sqlite3", "")
	fs.StringVar(&o.dbPath, "d", "bazaar.sqlite3", "")

	fs.StringVar(&o.addr, "addr", ":8080", "")
	fs.StringVar(&o.addr, "a", ":8080", "")

	fs.StringVar(&o.logPath, "log", "", "")
	fs.StringVar(&o.logPath, "l", "", "")

	fs.StringVar(&o.shopsDir, "shops", "", "")
	fs.StringVar(&o.shopsDir, "s", "", "")

	fs.StringVar(&o.amqpURL, "amqp", "", "")
	fs.StringVar(&o.issueToken, "issue-token", "", "")
	fs.StringVar(&o.scope, "scope", auth.ScopeAdmin, "")

	fs.DurationVar(&rent.CycleInterval, "rent-interval", rent.CycleInterval, "")
	fs.DurationVar(&rent.RentPeriod, "rent-period", rent.RentPeriod, "")
	fs.DurationVar(&rent.GracePeriod, "grace", rent.GracePeriod, "")
	fs.DurationVar(&rent.AbandonIdle, "abandon-idle", rent.AbandonIdle, "")
	fs.DurationVar(&restock.Interval, "restock-interval", restock.Interval, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: bazaar [flags]

Flags:
  -d, -db <path>                SQLite database path (default: bazaar.sqlite3)
  -a, -addr <host:port>         listen address (default: :8080)
  -l, -log <path>               log file path (default: no file, stdout/stderr only)
  -s, -shops <dir>              directory of shop definition JSON files
  -amqp <url>                   RabbitMQ URL for market events (default: log events only)
  -rent-interval <duration>     how often stalls are checked for rent (default: 1m)
  -rent-period <duration>       time paid for by one rent payment (default: 24h)
  -grace <duration>             grace window after a missed payment (default: 12h)
  -abandon-idle <duration>      idle time before an empty stall is released (default: 2h)
  -restock-interval <duration>  how often shops are checked for restock (default: 1m)
  -issue-token <operator>       print an API token for operator and exit
  -scope <read|admin>           scope of the issued token (default: admin)
  -h, -help                     show this help and exit
`)
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return o, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	o.rent, o.restock = rent, restock
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging: INFO/WARN → stdout, ERROR → stderr.
	// Optionally also write to a log file.
	closeLog, err := setupLogger(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(o); err != nil {
		slog.Error("bazaar stopped", "error", err)
		os.Exit(1)
	}
}

func run(o options) error {
	database, err := db.Open(o.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", o.dbPath)

	// Load signing secret from database (auto-generated on first run).
	secret, err := store.GetSigningSecret(context.Background(), database)
	if err != nil {
		return err
	}

	if o.issueToken != "" {
		token, err := auth.GenerateToken(secret, o.issueToken, o.scope)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	publisher, closeBus, err := setupPublisher(o.amqpURL)
	if err != nil {
		return err
	}
	defer closeBus()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := newMarket(ctx, database, publisher, secret, o)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.restocker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.rent.Run(ctx)
	}()

	server := &http.Server{
		Addr:              o.addr,
		Handler:           api.LoggingMiddleware(m.router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", o.addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	wg.Wait()
	slog.Info("server stopped, closing database")
	return nil
}

// setupPublisher connects to RabbitMQ when url is set and otherwise logs
// events.
func setupPublisher(url string) (events.Publisher, func(), error) {
	if url == "" {
		slog.Info("no message broker configured, events are logged only")
		return events.LogPublisher{Logger: slog.Default()}, func() {}, nil
	}

	conn, ch, err := events.SetupConn(url, 5, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	closeBus := func() {
		ch.Close()
		conn.Close()
	}
	return events.NewAMQPPublisher(ch), closeBus, nil
}

type market struct {
	router    http.Handler
	restocker *shop.Restocker
	rent      *stall.RentRenewalService
}

// newMarket wires the market's services on top of the database and loads the
// shop catalog.
func newMarket(ctx context.Context, database *sql.DB, publisher events.Publisher, secret string, o options) (*market, error) {
	logger := slog.Default()

	repo := shop.NewRepository(store.Shops{DB: database}, logger)
	repo.Subscribe(events.ForwardShopChanges(publisher))
	if err := repo.Reload(ctx); err != nil {
		return nil, fmt.Errorf("loading shops: %w", err)
	}
	if o.shopsDir != "" {
		if failures := repo.LoadDefinitions(ctx, o.shopsDir); len(failures) > 0 {
			slog.Warn("some shop definitions were skipped", "dir", o.shopsDir, "count", len(failures))
		}
	}

	prices := shop.NewPriceCalculator()
	wallets := store.Wallets{DB: database}
	stalls := store.Stalls{DB: database}
	coins := coinhouse.NewService(store.Accounts{DB: database}, logger)
	lockup := reeve.NewLockupService(store.Reeve{DB: database}, logger)

	rent := stall.NewRentRenewalService(stall.Services{
		Store:       stalls,
		CoinHouse:   coins,
		Wallet:      wallets,
		Notifier:    events.Notifier{Publisher: publisher},
		Broadcaster: events.Broadcaster{Publisher: publisher},
		Custodian:   reeve.Custodian{Lockup: lockup, Stalls: stalls, Logger: logger},
		Publisher:   publisher,
	}, o.rent, logger)

	restocker := shop.NewRestocker(repo, shop.IntervalRestock{}, o.restock, logger)

	router := api.NewRouter(api.Services{
		DB:        database,
		Shops:     repo,
		Prices:    prices,
		Restocker: restocker,
		Checkout:  shop.NewCheckout(repo, prices, wallets, events.Deliveries{Publisher: publisher}, logger),
		Ledger:    stall.NewLedger(stalls, wallets, coins, logger),
		Lockup:    lockup,
		Recipient: events.Returns{Publisher: publisher, Logger: logger},
	}, secret)

	slog.Info("market ready", "shops", len(repo.All()))
	return &market{router: router, restocker: restocker, rent: rent}, nil
}
