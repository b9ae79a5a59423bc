// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is entirely via flags/environment (see internal/config) so
// a single binary can serve any role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/kvstore/node1
//
// Example — 3-node leader-based cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 --mode leader \
//	         --peers node2=localhost:8081,node3=localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 --mode leader \
//	         --peers node1=localhost:8080,node3=localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 --mode leader \
//	         --peers node1=localhost:8080,node2=localhost:8081
//
// Example — 3-node leaderless cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 --mode leaderless \
//	         --replication-factor 3 --peers node2=localhost:8081,node3=localhost:8082
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	zerologlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kvstore/internal/api"
	"kvstore/internal/cluster"
	"kvstore/internal/config"
	"kvstore/internal/dispatch"
	"kvstore/internal/index"
	"kvstore/internal/leader"
	"kvstore/internal/leaderless"
	"kvstore/internal/logging"
	"kvstore/internal/single"
	"kvstore/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Run a distributed KV store node",
		RunE:  runServer,
	}
	config.RegisterFlags(root)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// lifecycle is implemented by the leader and leaderless engines, which run
// background goroutines (elections/heartbeats, gossip) that need an
// explicit Start/Stop. single.Engine has none, so it's handled separately.
type lifecycle interface {
	Start()
	Stop()
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.NodeID)
	// internal/leader and internal/leaderless log through the zerolog
	// global logger rather than taking an injected one, so point it at
	// our configured logger too — otherwise --log-level and the node
	// field never apply to election/heartbeat/gossip logs.
	zerologlog.Logger = logger

	nodeDataDir := filepath.Join(cfg.DataDir, cfg.NodeID)
	s, err := store.New(nodeDataDir, store.WithDebug(cfg.Debug))
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer s.Close()

	selfNode := cluster.Node{ID: cfg.NodeID, Address: cfg.Addr}
	membership := cluster.NewMembership(selfNode, cfg.Peers)

	ix, err := index.New(nodeDataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open search indexes")
	}

	var engine dispatch.Engine
	var lc lifecycle

	switch cfg.Mode {
	case config.ModeSingle:
		engine = single.New(s)

	case config.ModeLeader:
		e := leader.New(cfg.NodeID, cfg.Addr, s, membership)
		engine, lc = e, e

	case config.ModeLeaderless:
		e, err := leaderless.New(cfg.NodeID, s, membership, nodeDataDir, cfg.ReplicationFactor)
		if err != nil {
			logger.Fatal().Err(err).Msg("open leaderless engine")
		}
		engine, lc = e, e
	}

	if lc != nil {
		lc.Start()
		defer lc.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(logger), api.Recovery(logger))

	handler := api.NewHandler(engine, membership, ix, cfg.NodeID)
	handler.Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("mode", string(cfg.Mode)).Int("nodes", membership.Count()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Background checkpoint on the configured interval — snapshots and
	// truncates the WAL so it doesn't grow unbounded (§4.1/§5 checkpoint()).
	stopSnapshots := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SnapshotInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopSnapshots:
				return
			case <-ticker.C:
				if err := s.Checkpoint(); err != nil {
					logger.Error().Err(err).Msg("checkpoint failed")
				} else {
					logger.Debug().Msg("checkpoint saved")
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(stopSnapshots)

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.Checkpoint(); err != nil {
		logger.Error().Err(err).Msg("final checkpoint failed")
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	return nil
}
