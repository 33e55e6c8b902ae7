// Command mark runs the periodic rebalance/invoice-settlement process:
// config load, dependency wiring, then the control loop of
// internal/processor until SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/everclearorg/mark-sub001/internal/balance"
	"github.com/everclearorg/mark-sub001/internal/bridge"
	"github.com/everclearorg/mark-sub001/internal/chain"
	"github.com/everclearorg/mark-sub001/internal/config"
	"github.com/everclearorg/mark-sub001/internal/db"
	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/httpapi"
	"github.com/everclearorg/mark-sub001/internal/invoice"
	"github.com/everclearorg/mark-sub001/internal/logging"
	"github.com/everclearorg/mark-sub001/internal/metrics"
	"github.com/everclearorg/mark-sub001/internal/processor"
	"github.com/everclearorg/mark-sub001/internal/queue"
	"github.com/everclearorg/mark-sub001/internal/rebalance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; a missing file is not an error, just nothing to load.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	configPath := os.Getenv("MARK_CONFIG")
	if configPath == "" {
		configPath = "config.yml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	store, err := db.ConnectWithRetry(cfg.Database, log, cfg.MaxRetries, time.Duration(cfg.RetryDelay)*time.Second)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	rdbOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(rdbOpts)
	defer rdb.Close()
	eventQueue := queue.New(rdb)

	privateKey, err := loadSigningKey()
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	bindings, err := buildChainBindings(cfg, privateKey)
	if err != nil {
		return fmt.Errorf("build chain bindings: %w", err)
	}

	reader, err := chain.NewReader(bindings)
	if err != nil {
		return fmt.Errorf("build chain reader: %w", err)
	}

	submitter, err := chain.NewMultiChainSubmitter(log, bindings)
	if err != nil {
		return fmt.Errorf("build chain submitter: %w", err)
	}
	purchaseSubmitter := chain.NewInvoicePurchaseSubmitter(cfg, submitter)

	hub := invoice.NewHubClient(cfg.Hub.Providers[0], log, 15*time.Second)
	balanceSvc := balance.New(cfg, reader, hub, log)
	registry := bridge.NewRegistry() // adapter registration lives outside this command's scope

	engine := rebalance.NewEngine(rebalance.EngineConfig{
		Cfg:       cfg,
		Store:     store,
		Earmarks:  store,
		Registry:  registry,
		Submitter: submitter,
		Balances:  balanceSvc,
		Resolver:  reader,
		Swaps:     store,
		Log:       log,
	})

	pipeline := invoice.NewPipeline(invoice.PipelineConfig{
		Cfg:        cfg,
		Hub:        hub,
		Queue:      eventQueue,
		Earmarks:   store,
		Rebalances: store,
		Balances:   balanceSvc,
		Resolver:   reader,
		Submitter:  purchaseSubmitter,
		LegSubmitter: submitter,
		Registry:   registry,
		Log:        log,
	})

	metricsReg := metrics.New()

	proc := processor.New(processor.Config{
		Rebalance:  engine,
		Invoices:   pipeline,
		Metrics:    metricsReg,
		Queue:      eventQueue,
		EventTypes: []domain.EventType{domain.EventInvoiceCreated, domain.EventInvoiceSettled, domain.EventDestinationCallback, domain.EventSwapUpdate},
		Log:        log,
	})

	healthChecks := map[string]httpapi.HealthChecker{
		"database": dbHealthAdapter{store},
		"redis":    redisHealthAdapter{rdb},
	}
	api := httpapi.New(":8080", healthChecks, proc, metricsReg.Registerer(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go proc.Run(ctx)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			log.Errorw("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown error", "error", err)
	}
	if err := store.GracefulShutdown(10 * time.Second); err != nil {
		log.Warnw("database shutdown error", "error", err)
	}
	return nil
}

// buildChainBindings dials each configured chain's first RPC provider and
// binds an EOA owner for every chain; no chain is bound to a Zodiac owner.
func buildChainBindings(cfg *config.Config, privateKey *ecdsa.PrivateKey) ([]chain.ChainBinding, error) {
	var bindings []chain.ChainBinding
	for chainIDStr, chainCfg := range cfg.Chains {
		var chainID int64
		if _, err := fmt.Sscanf(chainIDStr, "%d", &chainID); err != nil {
			return nil, fmt.Errorf("chain key %q is not numeric: %w", chainIDStr, err)
		}
		if len(chainCfg.Providers) == 0 {
			return nil, fmt.Errorf("chain %d has no RPC providers configured", chainID)
		}

		client, err := ethclient.Dial(chainCfg.Providers[0])
		if err != nil {
			return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		chainIDBig := big.NewInt(chainID)

		// Zodiac role-module binding needs a bound ContractClient plus the
		// role key/module signer, which are deployment secrets configured
		// outside this bootstrap; every chain binds the raw EOA owner here,
		// and a Zodiac-routed chain's NewZodiacOwner wiring is added at the
		// point those secrets are sourced.
		owner := chain.NewEOAOwner(crypto.PubkeyToAddress(privateKey.PublicKey), privateKey)

		listener := chain.NewTxListener(client, 3*time.Second, 5*time.Minute)

		bindings = append(bindings, chain.ChainBinding{
			ChainID:    chainID,
			ChainIDBig: chainIDBig,
			Client:     client,
			Owner:      owner,
			Listener:   listener,
		})
	}
	return bindings, nil
}

// loadSigningKey reads Mark's signing key from MARK_PRIVATE_KEY as raw hex.
func loadSigningKey() (*ecdsa.PrivateKey, error) {
	raw := os.Getenv("MARK_PRIVATE_KEY")
	if raw == "" {
		return nil, fmt.Errorf("MARK_PRIVATE_KEY not set")
	}
	return crypto.HexToECDSA(raw)
}

type dbHealthAdapter struct{ store *db.Store }

func (a dbHealthAdapter) CheckHealth(ctx context.Context) (bool, string) {
	status := a.store.CheckHealth(ctx)
	return status.Healthy, status.Error
}

type redisHealthAdapter struct{ rdb *redis.Client }

func (a redisHealthAdapter) CheckHealth(ctx context.Context) (bool, string) {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return false, err.Error()
	}
	return true, ""
}
