package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
	"sumgrid/internal/dispatch"
	"sumgrid/internal/election"
	"sumgrid/internal/heartbeat"
	"sumgrid/internal/observability"
	"sumgrid/internal/provider"
	"sumgrid/internal/server"
	"sumgrid/internal/task"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	opts, err := parseFlags(flag.NewFlagSet("sumnode", flag.ExitOnError), os.Args[1:], config.Environ(os.Environ()))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	logger := observability.InitLogger(opts.nodeID)
	observability.RegisterMetrics()

	raw, err := config.Load(opts.configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read topology")
	}
	cfg, err := config.Resolve(raw, config.Environ(os.Environ()))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve config")
	}

	ident, err := cluster.ResolveIdentity(cfg, opts.nodeID, opts.overrides())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve node identity")
	}
	registry, err := cluster.BuildRegistry(cfg, ident.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build peer registry")
	}
	node := cluster.NewNode(ident, registry, cfg.Network.LeaderTimeout)
	logger.Info().Str("addr", ident.Address()).Int("peers", registry.Len()).Msg("node identity resolved")

	prov := provider.NewClient(cfg.API, ident.ID)
	executor := task.NewExecutor(prov, logger)
	tasks := task.NewManager(node, cfg.Tasks, logger)
	router := dispatch.NewRouter(ident, registry, prov, executor, dispatch.DefaultRouterConfig(), logger)
	elect := election.New(node, cfg.Network.ElectionTimeout, logger, tasks.Kick)
	hb := heartbeat.New(node, cfg.Network.HeartbeatInterval, logger)

	srv := server.New(ident, server.Deps{
		Node:      node,
		Dispatch:  router,
		Election:  elect,
		Heartbeat: hb,
		Tasks:     tasks,
		Executor:  executor,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hb.Run(ctx)
	go elect.Run(ctx)
	go tasks.Run(ctx)

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("shutdown complete")
}
