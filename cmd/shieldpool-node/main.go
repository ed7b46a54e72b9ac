package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/umbra-labs/shieldpool-go/pkg/auth"
	"github.com/umbra-labs/shieldpool-go/pkg/config"
	"github.com/umbra-labs/shieldpool-go/pkg/logger"
	"github.com/umbra-labs/shieldpool-go/pkg/node"
	"github.com/umbra-labs/shieldpool-go/pkg/pool"
	"github.com/umbra-labs/shieldpool-go/pkg/store"
	"github.com/umbra-labs/shieldpool-go/pkg/store/badger"
	"github.com/umbra-labs/shieldpool-go/pkg/store/memory"
	"github.com/umbra-labs/shieldpool-go/pkg/store/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:  "shieldpool-node",
		Usage: "Shielded pool node",
		Description: `A shielded pool node serving fixed-denomination private deposits and
zero-knowledge withdrawals over HTTP.

The node maintains one pool per registered asset: an append-only commitment
ledger, an incremental MiMC Merkle tree with a root history window, and a
nullifier registry. Withdrawals are admitted against a Groth16 proof and
committed atomically.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.StringFlag{
				Name:    "store-backend",
				Usage:   fmt.Sprintf("Persistence backend: %s", config.SupportedStoreBackendsString()),
				Value:   config.StoreBackendMemory.String(),
				EnvVars: []string{config.EnvStoreBackend},
			},
			&cli.StringFlag{
				Name:    "badger-dir",
				Usage:   "Data directory for the badger backend",
				EnvVars: []string{config.EnvBadgerDir},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis server address (host:port) for the redis backend",
				EnvVars: []string{config.EnvRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number (0-15)",
				EnvVars: []string{config.EnvRedisDB},
			},
			&cli.IntFlag{
				Name:    "tree-depth",
				Usage:   "Merkle tree depth (0 selects the default)",
				EnvVars: []string{config.EnvTreeDepth},
			},
			&cli.IntFlag{
				Name:    "root-history-size",
				Usage:   "Number of retained roots (0 selects the default)",
				EnvVars: []string{config.EnvRootHistorySize},
			},
			&cli.StringFlag{
				Name:    "verifying-key",
				Aliases: []string{"vk"},
				Usage:   "Path to a Groth16 verifying key to install at startup",
				EnvVars: []string{config.EnvVerifyingKeyPath},
			},
			&cli.StringFlag{
				Name:    "admin-jwks-url",
				Usage:   "JWKS endpoint for admin token verification",
				EnvVars: []string{config.EnvAdminJWKSURL},
			},
			&cli.StringFlag{
				Name:    "admin-key-file",
				Usage:   "Static public key file (PEM or JWKS) for admin token verification",
				EnvVars: []string{config.EnvAdminKeyFile},
			},
			&cli.StringFlag{
				Name:    "admin-issuer",
				Usage:   "Required issuer claim on admin tokens",
				EnvVars: []string{config.EnvAdminIssuer},
			},
			&cli.StringFlag{
				Name:    "admin-audience",
				Usage:   "Required audience claim on admin tokens",
				EnvVars: []string{config.EnvAdminAudience},
			},
			&cli.Float64Flag{
				Name:    "rate-limit-rps",
				Usage:   "Per-client requests per second on mutating endpoints (0 disables)",
				Value:   config.DefaultRateLimitRPS,
				EnvVars: []string{config.EnvRateLimitRPS},
			},
			&cli.IntFlag{
				Name:    "rate-limit-burst",
				Usage:   "Per-client burst size on mutating endpoints",
				Value:   config.DefaultRateLimitBurst,
				EnvVars: []string{config.EnvRateLimitBurst},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Action: runNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runNode(c *cli.Context) error {
	cfg, err := parseNodeConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := buildStore(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() { _ = st.Close() }()

	svc, err := pool.NewService(&pool.ServiceConfig{
		Store:       st,
		Depth:       cfg.TreeDepth,
		HistorySize: cfg.RootHistorySize,
		Logger:      l,
	})
	if err != nil {
		return fmt.Errorf("failed to build pool service: %w", err)
	}

	if cfg.VerifyingKeyPath != "" {
		if err := preloadVerifyingKey(svc, cfg.VerifyingKeyPath, l); err != nil {
			return err
		}
	}

	var adminAuth *auth.Verifier
	if cfg.AdminEnabled() {
		adminAuth, err = auth.NewVerifier(context.Background(), &auth.Config{
			JWKSURL:  cfg.AdminJWKSURL,
			KeyFile:  cfg.AdminKeyFile,
			Issuer:   cfg.AdminIssuer,
			Audience: cfg.AdminAudience,
		}, l)
		if err != nil {
			return fmt.Errorf("failed to build admin verifier: %w", err)
		}
	}

	srv, err := node.NewServer(svc, adminAuth, &node.ServerConfig{
		Port:           cfg.Port,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, l)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	l.Sugar().Infow("Starting shieldpool node",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"assets", len(svc.Assets()),
		"verifying_key_installed", svc.VerifyingKeyInstalled(),
		"admin_enabled", cfg.AdminEnabled(),
		"rate_limit_rps", config.FormatRateLimit(cfg.RateLimitRPS))

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Available endpoints",
		"deposit", "POST /v1/deposit",
		"withdraw", "POST /v1/withdraw",
		"reads", "GET /v1/root /v1/roots /v1/spent /v1/path /v1/assets /v1/healthz",
		"admin", "POST /v1/admin/verifying-key /v1/admin/assets")
	l.Sugar().Info("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	l.Sugar().Infow("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func parseNodeConfig(c *cli.Context) (*config.NodeConfig, error) {
	backend, err := config.ParseStoreBackend(c.String("store-backend"))
	if err != nil {
		return nil, err
	}

	return &config.NodeConfig{
		Port:             c.Int("port"),
		StoreBackend:     backend,
		BadgerDir:        c.String("badger-dir"),
		RedisAddress:     c.String("redis-address"),
		RedisPassword:    c.String("redis-password"),
		RedisDB:          c.Int("redis-db"),
		TreeDepth:        c.Int("tree-depth"),
		RootHistorySize:  c.Int("root-history-size"),
		VerifyingKeyPath: c.String("verifying-key"),
		AdminJWKSURL:     c.String("admin-jwks-url"),
		AdminKeyFile:     c.String("admin-key-file"),
		AdminIssuer:      c.String("admin-issuer"),
		AdminAudience:    c.String("admin-audience"),
		RateLimitRPS:     c.Float64("rate-limit-rps"),
		RateLimitBurst:   c.Int("rate-limit-burst"),
		Debug:            c.Bool("debug"),
	}, nil
}

func buildStore(cfg *config.NodeConfig, l *zap.Logger) (store.IPoolStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendBadger:
		return badger.NewBadgerStore(cfg.BadgerDir, l)
	case config.StoreBackendRedis:
		return redis.NewRedisStore(&redis.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
	default:
		return memory.NewMemoryStore(), nil
	}
}

// preloadVerifyingKey installs a verifying key from disk. A key already
// recovered from the store wins over the file.
func preloadVerifyingKey(svc *pool.Service, path string, l *zap.Logger) error {
	vk, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read verifying key file: %w", err)
	}

	if err := svc.InstallVerifyingKey(vk); err != nil {
		if errors.Is(err, store.ErrVerifyingKeyExists) {
			l.Sugar().Infow("Verifying key already installed, ignoring file", "path", path)
			return nil
		}
		return fmt.Errorf("failed to install verifying key from %s: %w", path, err)
	}

	l.Sugar().Infow("Verifying key installed from file", "path", path, "size_bytes", len(vk))
	return nil
}
