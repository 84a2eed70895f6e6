package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/saltyorg/cookieshop/internal/auth"
	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/checkout"
	"github.com/saltyorg/cookieshop/internal/config"
	"github.com/saltyorg/cookieshop/internal/database"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/kvstore"
	"github.com/saltyorg/cookieshop/internal/logging"
	"github.com/saltyorg/cookieshop/internal/maintenance"
	"github.com/saltyorg/cookieshop/internal/store"
	"github.com/saltyorg/cookieshop/internal/web"
	"github.com/saltyorg/cookieshop/internal/web/handlers"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dataDir     string
	backend     string
	listen      string
	allowSubnet string
	verbosity   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cookieshop",
		Short: "Cookieshop - storefront persistence server",
		Long:  `Cookieshop serves the cookie storefront API on top of a SQLite database or a key/value store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
		RunE: runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Directory for the database, key/value files and logs (or set COOKIESHOP_DATA_DIR)")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Storage backend: sqlite, kv or auto (or set COOKIESHOP_BACKEND)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on, e.g. 127.0.0.1:8080 or 0.0.0.0:8080 (or set COOKIESHOP_LISTEN)")
		c.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect, e.g. 192.168.1.0/24 (or set COOKIESHOP_ALLOW_SUBNET)")
	}

	rootCmd.AddCommand(
		serveCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("cookieshop %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
		usersCmd(),
		statsCmd(),
		resetCmd(),
		sqlCmd(),
		migratePasswordsCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves settings from the environment, then applies flags
func loadConfig() (config.App, *config.Loader) {
	loader := config.NewLoader(config.NewEnvSettings())
	cfg := config.FromLoader(loader)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if allowSubnet != "" {
		cfg.AllowSubnet = allowSubnet
	}
	cfg.LogLevel = logging.LevelFromVerbosity(verbosity, cfg.LogLevel)
	return cfg, loader
}

// app is the storage stack shared by every command
type app struct {
	cfg     config.App
	db      *database.Manager
	kv      *kvstore.FileStore
	store   *store.Store
	session *store.Session
	catalog *catalog.Catalog
}

// openApp opens the configured backend and restores the session. The
// key/value directory always holds the session, and holds the tables too
// when the kv backend is selected.
func openApp(cfg config.App) (*app, error) {
	kind, err := database.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}

	products := catalog.Default()
	if cfg.CatalogFile != "" {
		data, err := os.ReadFile(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		if products, err = catalog.Load(data); err != nil {
			return nil, err
		}
	}

	kv, err := kvstore.OpenFileStore(filepath.Join(cfg.DataDir, "kv"))
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{Kind: kind, DataDir: cfg.DataDir, KV: kv})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	sess := store.NewSession(kv)
	if err := sess.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore session, starting signed out")
	}

	return &app{
		cfg:     cfg,
		db:      db,
		kv:      kv,
		store:   store.New(db, products),
		session: sess,
		catalog: products,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
	if err := a.kv.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close key/value store")
	}
}

func pricingFrom(cfg config.App) checkout.Pricing {
	return checkout.Pricing{
		FreeShippingThreshold: decimal.NewFromFloat(cfg.FreeShippingThreshold),
		ShippingFee:           decimal.NewFromFloat(cfg.ShippingFee),
		TaxRate:               decimal.NewFromFloat(cfg.TaxRate),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader := loadConfig()
	allowedNet, err := cfg.AllowedNet()
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = logging.FilePathForDataDir(cfg.DataDir)
	}
	logging.Apply(cfg.LogLevel, loader, logFile)

	// The API acts as whoever is signed in, so exposure must be deliberate
	if cfg.ListensOnAllInterfaces() && allowedNet == nil {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider a loopback --listen address or --allow-subnet.")
	}

	log.Info().
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("allow_subnet", cfg.AllowSubnet).
		Str("data_dir", cfg.DataDir).
		Str("backend", cfg.Backend).
		Msg("Starting Cookieshop")

	a, err := openApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.db.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	log.Info().Str("backend", string(a.db.Backend())).Msg("Storage ready")

	adminToken, err := auth.LoadOrCreateToken(cfg.AdminTokenPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load admin token")
	}
	log.Info().Str("path", cfg.AdminTokenPath()).Msg("Admin token loaded")

	broker := events.NewBroker(events.WithHeartbeat(cfg.EventHeartbeat))
	a.db.OnChange(broker.OnChange)
	if cfg.WatchExternal {
		if err := a.db.WatchExternal(); err != nil {
			log.Warn().Err(err).Msg("External change watching unavailable")
		}
	}

	scheduler := maintenance.NewScheduler(a.db, maintenance.Config{
		Enabled:  cfg.MaintenanceEnabled,
		Schedule: cfg.MaintenanceSchedule,
		Timeout:  cfg.MaintenanceTimeout,
	})
	scheduler.SetBroker(broker)
	if err := scheduler.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start maintenance scheduler")
	}
	defer scheduler.Stop()

	server := web.NewServer(handlers.Deps{
		Store:       a.store,
		Session:     a.session,
		Auth:        auth.NewService(a.store, auth.NewHasher(cfg.BcryptCost)),
		Checkout:    checkout.NewService(a.store, pricingFrom(cfg)),
		Catalog:     a.catalog,
		Broker:      broker,
		Maintenance: scheduler,
		Version:     handlers.VersionInfo{Version: version, Commit: commit, Date: date},
		PingPeriod:  cfg.EventHeartbeat,
	}, web.Config{
		Addr:            cfg.Listen,
		AdminToken:      adminToken,
		AllowedNet:      allowedNet,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Cookieshop stopped")
	return nil
}
