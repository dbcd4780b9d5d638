// Command shardgate is the process entrypoint: it loads the YAML
// configuration, brings up the logger, wires the cluster router and
// one reactor worker per configured worker slot, and starts the
// downstream acceptor and the admin HTTP surface.
//
// Process supervision, fork/thread boot, SSL certificate loading and
// the nebula RPC control plane are out of this project's scope (see
// spec §1); this binary runs a single process with goroutine workers,
// which is the idiomatic Go rendering of that same worker-pool shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shardgate/internal/admin"
	"shardgate/internal/channel"
	"shardgate/internal/cluster"
	"shardgate/internal/codec"
	"shardgate/internal/codec/resp"
	"shardgate/internal/config"
	"shardgate/internal/logger"
	"shardgate/internal/reactor"
	"shardgate/internal/registry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("shardgate", flag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "shardgate: %v\n", err)
		return 1
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "shardgate: -config is required")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shardgate: failed to load config: %v\n", err)
		return 2
	}

	if err := logger.Init(cfg.LogDir, logger.INFO, "shardgate"); err != nil {
		fmt.Fprintf(os.Stderr, "shardgate: failed to init logger: %v\n", err)
		return 1
	}
	defer logger.Close()

	logger.Console("shardgate starting up:\n%s", cfg.PrettySummary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		logger.Error("shardgate: failed to build app: %v", err)
		return 1
	}
	app.Run(ctx)
	logger.Console("shardgate stopped")
	return 0
}

// app wires together everything main.go owns: the shared cross-worker
// registry, one Router+Worker pair per worker slot, the downstream
// acceptor, and the admin HTTP surface.
type app struct {
	cfg     *config.Config
	shared  *reactor.Shared
	workers []*reactor.Worker
	acc     *reactor.Acceptor
	adminSv *admin.Server
}

func newApp(cfg *config.Config) (*app, error) {
	reg := registry.New()
	for _, seed := range cfg.Cluster.SeedAddresses {
		reg.AddEndpoint("cluster", seed)
	}

	dialOpts := channel.DialOpts{
		Timeout:         cfg.Timeout(),
		KeepAlive:       30 * time.Second,
		ReceiveBufBytes: cfg.Worker.ReceiveBufBytes,
	}

	newCodec := func() codec.Codec { return resp.New() }

	a := &app{cfg: cfg, shared: reactor.NewShared()}

	handlers := make([]reactor.ClientHandler, cfg.Worker.Count)
	for i := 0; i < cfg.Worker.Count; i++ {
		routerCfg := cluster.Config{
			SeedAddresses:  cfg.Cluster.SeedAddresses,
			WithSSL:        cfg.Cluster.WithSSL,
			Pipeline:       cfg.Cluster.Pipeline,
			EnableReadonly: cfg.Cluster.EnableReadonly,
			Timeout:        cfg.Timeout(),
			AuthPassword:   cfg.Cluster.AuthPassword,
			MaxRedirects:   cfg.Cluster.MaxRedirects,
			Identify:       "cluster",
		}

		worker := reactor.NewWorker(reactor.WorkerOpts{
			Index:               i,
			Pipeline:            cfg.Cluster.Pipeline,
			NewCodec:            newCodec,
			DialOpts:            dialOpts,
			HealthCheckInterval: cfg.HealthCheckInterval(),
			DeathCheckInterval:  cfg.TopologyRefreshInterval(),
		}, nil)

		router := cluster.New(routerCfg, worker, reg)
		worker.SetRouter(router)

		a.workers = append(a.workers, worker)
		handlers[i] = worker
	}

	a.acc = reactor.NewAcceptor(reactor.AcceptorOpts{
		Addr:           cfg.Listen.Addr,
		Mode:           reactor.ParseAssignmentMode(cfg.Worker.AssignmentMode),
		RateLimitQPS:   cfg.Listen.RateLimitPerIP,
		RateLimitBurst: cfg.Listen.RateLimitBurst,
	}, handlers)

	if cfg.Admin.Enabled {
		a.adminSv = admin.New(cfg.Admin.Addr, &appSource{app: a})
	}
	return a, nil
}

// Run starts every worker loop, the acceptor and (if enabled) the
// admin server, and blocks until ctx is cancelled.
func (a *app) Run(ctx context.Context) {
	for i, w := range a.workers {
		a.shared.RegisterWorker(i, w.Wake)
		go w.Run(ctx)
	}

	if a.adminSv != nil {
		go func() {
			if err := a.adminSv.Run(); err != nil {
				logger.Error("shardgate: admin server stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := a.acc.Run(ctx); err != nil {
			logger.Error("shardgate: acceptor stopped: %v", err)
		}
	}()

	<-ctx.Done()
	for i := range a.workers {
		a.shared.Unregister(i)
	}
}

// appSource implements admin.Source over the running worker pool. It
// reports the first worker's router topology, since every worker's
// router tracks the same upstream cluster independently; a production
// build with per-shard partitioning would aggregate across routers
// instead.
type appSource struct {
	app *app
}

func (s *appSource) Topology() interface{} {
	if len(s.app.workers) == 0 {
		return nil
	}
	return s.app.workers[0].RouterTopology()
}

func (s *appSource) PoolStats() []admin.PoolStats {
	stats := make([]admin.PoolStats, 0, len(s.app.workers))
	for i, w := range s.app.workers {
		stats = append(stats, admin.PoolStats{
			WorkerIndex:    i,
			EndpointsInUse: w.Pool().Snapshot(),
			ClientSessions: w.ClientCount(),
		})
	}
	return stats
}
