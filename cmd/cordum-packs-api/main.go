package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cordum/cordum-packs/core/controlplane/gateway"
	"github.com/cordum/cordum-packs/core/infra/buildinfo"
	"github.com/cordum/cordum-packs/core/infra/bus"
	"github.com/cordum/cordum-packs/core/infra/config"
	"github.com/cordum/cordum-packs/core/infra/locks"
	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/infra/metrics"
	"github.com/cordum/cordum-packs/core/infra/redisutil"
	"github.com/cordum/cordum-packs/core/infra/schema"
	"github.com/cordum/cordum-packs/core/infra/store"
	"github.com/cordum/cordum-packs/core/packs"
)

const service = "cordum-packs-api"

func main() {
	buildinfo.Log(service)
	cfg, err := config.Load()
	if err != nil {
		logging.Error("packs-api", "load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("packs-api", "exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	client, err := redisutil.Connect(ctx, redisutil.Options{
		URL:          cfg.RedisURL,
		ClusterAddrs: cfg.RedisClusterAddrs,
		TLS: redisutil.TLSOptions{
			CAFile:     cfg.RedisTLS.CA,
			CertFile:   cfg.RedisTLS.Cert,
			KeyFile:    cfg.RedisTLS.Key,
			ServerName: cfg.RedisTLS.ServerName,
			Insecure:   cfg.RedisTLS.Insecure,
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()

	nb, err := bus.NewNatsBus(bus.Options{
		URL:          cfg.NatsURL,
		Name:         service,
		UseJetStream: cfg.UseJetStream,
		TLS: bus.TLSOptions{
			CAFile:   cfg.NatsTLS.CA,
			CertFile: cfg.NatsTLS.Cert,
			KeyFile:  cfg.NatsTLS.Key,
			Insecure: cfg.NatsTLS.Insecure,
		},
	})
	if err != nil {
		return err
	}
	defer nb.Close()

	prom := metrics.NewProm("packs")
	st := store.NewRedisStore(client)
	schemas := schema.NewRegistry(client)

	orchOpts := []packs.OrchestratorOption{packs.WithRegistrationMetrics(prom)}
	if kinds := cfg.FailFast(); kinds != nil {
		orchOpts = append(orchOpts, packs.WithFailFastKinds(kinds))
	}
	orchestrator := packs.NewOrchestrator(bus.Registrars(nb, cfg.RegisterTimeout), orchOpts...)

	engine := packs.NewEngine(
		store.Collections(st),
		st,
		schemas,
		packs.NewProtectedSet(cfg.Protected...),
		packs.WithPackLocker(locks.NewPackLocker(locks.NewRedisStore(client), cfg.LockTTL)),
		packs.WithDeregistrationMetrics(prom),
	)

	srv := gateway.New(gateway.Deps{
		Catalog:     st,
		Lookup:      st,
		Registrar:   orchestrator,
		Deregistrar: engine,
		Dispatcher:  packs.NewDispatcher(bus.NewExecutionScheduler(nb), prom),
		Configs:     schemas,
		Metrics:     metrics.NewGatewayProm("packs"),
		Auth:        gateway.NewAPIKeyAuth(cfg.APIKeys),
		Ready: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}
			if !nb.IsConnected() {
				return errors.New("nats " + nb.Status())
			}
			return nil
		},
	})
	logging.Info("packs-api", "starting",
		"http", cfg.HTTPAddr,
		"metrics", cfg.MetricsAddr,
		"protected", len(cfg.Protected),
		"jetstream", cfg.UseJetStream,
	)
	return srv.Run(ctx, cfg.HTTPAddr, cfg.MetricsAddr)
}
