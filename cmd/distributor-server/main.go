package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/node"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/redis"
)

func main() {
	app := &cli.App{
		Name:  "distributor-server",
		Usage: "Merkle distributor ledger server",
		Description: `Hosts one distribution ledger and serves it over HTTP.

The ledger holds a custody balance and a merkle root over (index, account, amount)
entitlements. Accounts claim with an inclusion proof and receive the difference
between their entitlement and what they already claimed. The maintainer rotates
the root; the owner manages roles and can withdraw the balance.

On first start against an empty store the ledger is initialized from --owner,
--maintainer and --merkle-root. Later starts reuse the stored ledger.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; flags override its values",
				EnvVars: []string{config.EnvDistributorConfigFile},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvDistributorPort},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Value:   config.PersistenceTypeBadger.String(),
				Usage:   fmt.Sprintf("Ledger store: %s", config.GetSupportedPersistenceTypesString()),
				EnvVars: []string{config.EnvDistributorPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Value:   config.DefaultDataPath,
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvDistributorDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				EnvVars: []string{config.EnvDistributorRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvDistributorRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvDistributorRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every Redis key, to host several ledgers in one database",
				EnvVars: []string{config.EnvDistributorRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "Owner address used when initializing a new ledger",
				EnvVars: []string{config.EnvDistributorOwner},
			},
			&cli.StringFlag{
				Name:    "maintainer",
				Usage:   "Maintainer address used when initializing a new ledger",
				EnvVars: []string{config.EnvDistributorMaintainer},
			},
			&cli.StringFlag{
				Name:    "merkle-root",
				Usage:   "Initial merkle root; empty means zero and every claim fails until it is set",
				EnvVars: []string{config.EnvDistributorMerkleRoot},
			},
			&cli.Float64Flag{
				Name:    "claim-rate-limit",
				Value:   config.DefaultClaimRateLimit,
				Usage:   "Claims per second accepted from one client",
				EnvVars: []string{config.EnvDistributorClaimRateLimit},
			},
			&cli.IntFlag{
				Name:    "claim-burst",
				Value:   config.DefaultClaimBurst,
				Usage:   "Claim burst size per client",
				EnvVars: []string{config.EnvDistributorClaimBurst},
			},
			&cli.Float64Flag{
				Name:    "signed-rate-limit",
				Value:   config.DefaultSignedRateLimit,
				Usage:   "Signed requests per second accepted from one client",
				EnvVars: []string{config.EnvDistributorSignedRateLimit},
			},
			&cli.IntFlag{
				Name:    "signed-burst",
				Value:   config.DefaultSignedBurst,
				Usage:   "Signed request burst size per client",
				EnvVars: []string{config.EnvDistributorSignedBurst},
			},
			&cli.BoolFlag{
				Name:    "trust-proxy-headers",
				Usage:   "Rate limit by X-Real-IP / X-Forwarded-For (only behind a proxy that sets them)",
				EnvVars: []string{config.EnvDistributorTrustProxy},
			},
			&cli.DurationFlag{
				Name:    "max-request-ttl",
				Value:   config.DefaultMaxRequestTTL,
				Usage:   "Longest validity accepted for a signed request",
				EnvVars: []string{config.EnvDistributorMaxRequestTTL},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDistributorVerbose},
			},
		},
		Action: runDistributorServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runDistributorServer(c *cli.Context) error {
	// Parse configuration from file/flags/environment
	cfg, err := parseServerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Create logger
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newPersistence(cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDistributorMetrics(registry)

	lg, err := ledger.NewLedger(store, m, l)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	if !lg.Initialized() {
		if err := cfg.ValidateBootstrap(); err != nil {
			return fmt.Errorf("store holds no ledger: %w", err)
		}
		if err := lg.Initialize(cfg.OwnerAddress(), cfg.MaintainerAddress(), cfg.MerkleRootHash()); err != nil {
			return fmt.Errorf("failed to initialize ledger: %w", err)
		}
	} else if cfg.Owner != "" || cfg.MerkleRoot != "" {
		l.Sugar().Warnw("Store already holds a ledger, ignoring bootstrap settings",
			"owner", lg.Owner().Hex(),
			"maintainer", lg.Maintainer().Hex(),
			"merkleRoot", lg.MerkleRoot().Hex(),
		)
	}

	n, err := node.NewNode(node.Config{
		Port:                   cfg.Port,
		ClaimRateLimit:         cfg.ClaimRateLimit,
		ClaimBurst:             cfg.ClaimBurst,
		SignedRequestRateLimit: cfg.SignedRateLimit,
		SignedRequestBurst:     cfg.SignedBurst,
		TrustProxyHeaders:      cfg.TrustProxyHeaders,
		MaxRequestTTL:          cfg.MaxRequestTTL,
		ReplayCacheSize:        cfg.ReplayCacheSize,
	}, lg, store, m, registry, l)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if cfg.Verbose {
		l.Sugar().Infow("Distributor Server Configuration",
			"port", cfg.Port,
			"persistence", cfg.PersistenceType,
			"claim_rate_limit", cfg.ClaimRateLimit,
			"claim_burst", cfg.ClaimBurst,
			"signed_rate_limit", cfg.SignedRateLimit,
			"signed_burst", cfg.SignedBurst,
			"trust_proxy_headers", cfg.TrustProxyHeaders,
			"max_request_ttl", cfg.MaxRequestTTL)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	l.Sugar().Infow("Distributor Server running", "port", cfg.Port)
	l.Sugar().Infow("Available endpoints",
		"read", "GET /state /claimed /events /health /metrics",
		"claim", "POST /claim",
		"signed", "POST /deposit /admin/*")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	l.Sugar().Infow("Shutting down", "signal", sig.String())

	return n.Stop()
}

func parseServerConfig(c *cli.Context) (*config.DistributorServerConfig, error) {
	cfg := config.NewDefaultDistributorServerConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadDistributorServerConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Flags and environment take precedence over the file, defaults do not
	fromFile := c.String("config") != ""
	set := func(name string) bool { return !fromFile || c.IsSet(name) }

	if set("port") {
		cfg.Port = c.Int("port")
	}
	if set("persistence-type") {
		cfg.PersistenceType = config.PersistenceType(c.String("persistence-type"))
	}
	if set("data-path") {
		cfg.DataPath = c.String("data-path")
	}
	if set("redis-address") {
		cfg.Redis.Address = c.String("redis-address")
	}
	if set("redis-password") {
		cfg.Redis.Password = c.String("redis-password")
	}
	if set("redis-db") {
		cfg.Redis.DB = c.Int("redis-db")
	}
	if set("redis-key-prefix") {
		cfg.Redis.KeyPrefix = c.String("redis-key-prefix")
	}
	if set("owner") {
		cfg.Owner = c.String("owner")
	}
	if set("maintainer") {
		cfg.Maintainer = c.String("maintainer")
	}
	if set("merkle-root") {
		cfg.MerkleRoot = c.String("merkle-root")
	}
	if set("claim-rate-limit") {
		cfg.ClaimRateLimit = c.Float64("claim-rate-limit")
	}
	if set("claim-burst") {
		cfg.ClaimBurst = c.Int("claim-burst")
	}
	if set("signed-rate-limit") {
		cfg.SignedRateLimit = c.Float64("signed-rate-limit")
	}
	if set("signed-burst") {
		cfg.SignedBurst = c.Int("signed-burst")
	}
	if set("trust-proxy-headers") {
		cfg.TrustProxyHeaders = c.Bool("trust-proxy-headers")
	}
	if set("max-request-ttl") {
		cfg.MaxRequestTTL = c.Duration("max-request-ttl")
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
		cfg.Debug = true
	}
	return cfg, nil
}

func newPersistence(cfg *config.DistributorServerConfig, l *zap.Logger) (persistence.ILedgerPersistence, error) {
	switch cfg.PersistenceType {
	case config.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		store, err := badger.NewBadgerPersistence(cfg.DataPath, l)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.PersistenceType)
	}
}
