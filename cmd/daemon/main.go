package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	cipherledger "github.com/i5heu/cipherledger"
	"github.com/i5heu/cipherledger/apiServer"
	"github.com/i5heu/cipherledger/internal/config"
	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/logging"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeyInMemory   = "inMemory"
	logKeySignal     = "signal"
	logKeyError      = "error"
	logKeyKeyPath    = "keyPath"
)

func main() { // A
	// Parse command line flags
	cfg := parseFlags()

	conf, err := config.Load(cfg.configPath)
	if err != nil {
		logging.Logger.Error("load config", logKeyError, err)
		os.Exit(1)
	}
	cfg.apply(&conf)

	level, err := logging.ParseLevel(conf.LogLevel)
	if err != nil {
		logging.Logger.Error("parse log level", logKeyError, err)
		os.Exit(1)
	}
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, level, true)

	logger.InfoContext(context.Background(), "starting cipherledger daemon",
		logKeyListenAddr, conf.Addr(),
		logKeyDataPath, conf.DataDir,
		logKeyInMemory, conf.InMemory)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	// Run the daemon
	if err := run(ctx, conf, cfg.apiToken, logger); err != nil {
		logger.ErrorContext(context.Background(), "daemon error", logKeyError, err)
		os.Exit(1)
	}
}

// daemonFlags holds the parsed command line flags. Set flags
// override the config file.
type daemonFlags struct { // A
	configPath string
	dataPath   string
	listenHost string
	port       int
	inMemory   bool
	apiToken   string
	debug      bool
}

// parseFlags parses command line flags.
func parseFlags() daemonFlags { // A
	cfg := daemonFlags{}

	flag.StringVar(&cfg.configPath, "config", "config.yaml",
		"Path to the YAML config file")
	flag.StringVar(&cfg.dataPath, "data", "",
		"Path to data directory")
	flag.StringVar(&cfg.listenHost, "host", "",
		"Host to listen on")
	flag.IntVar(&cfg.port, "port", 0,
		"Port to listen on")
	flag.BoolVar(&cfg.inMemory, "in-memory", false,
		"Keep the ledger in memory only")
	flag.StringVar(&cfg.apiToken, "token", os.Getenv("CIPHERLEDGER_TOKEN"),
		"Bearer token required by the HTTP API (empty disables auth)")
	flag.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")

	flag.Parse()

	return cfg
}

func (f daemonFlags) apply(conf *config.Config) {
	if f.dataPath != "" {
		conf.DataDir = f.dataPath
	}
	if f.listenHost != "" {
		conf.Server = f.listenHost
	}
	if f.port != 0 {
		conf.Port = f.port
	}
	if f.inMemory {
		conf.InMemory = true
	}
}

// run is the main daemon logic, separated for testability.
func run(
	ctx context.Context,
	conf config.Config,
	apiToken string,
	logger *slog.Logger,
) error { // A
	ledgerConf, err := conf.LedgerConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerConf.Logger = logger
	ledgerConf.Registerer = reg

	if conf.SignerKeyFile != "" {
		signer, created, err := auth.LoadOrCreateKeySigner(conf.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("setup signer key: %w", err)
		}
		if created {
			logger.InfoContext(ctx, "created new signer key", logKeyKeyPath, conf.SignerKeyFile)
		}
		ledgerConf.Verifier = signer.Verifier()
	} else {
		logger.WarnContext(ctx, "no signerKeyFile configured, any non-empty signature authorizes a reveal")
	}

	l, err := cipherledger.New(ledgerConf)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.WarnContext(context.Background(), "error closing ledger", logKeyError, err)
		}
	}()

	if added, err := l.Reconcile(ctx); err != nil {
		logger.WarnContext(ctx, "index reconciliation failed", logKeyError, err)
	} else if len(added) > 0 {
		logger.InfoContext(ctx, "reconciled orphan records", "count", len(added))
	}

	opts := []apiServer.Option{
		apiServer.WithLogger(logger),
		apiServer.WithRegistry(reg),
	}
	if apiToken != "" {
		opts = append(opts, apiServer.WithAuth(apiServer.BearerAuth(apiToken)))
	}

	srv := &http.Server{
		Addr:              conf.Addr(),
		Handler:           apiServer.New(l, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "daemon started", logKeyListenAddr, conf.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.InfoContext(ctx, "daemon shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
