package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insthync/reqres/config"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/middleware"
	"github.com/insthync/reqres/registry"
	"github.com/insthync/reqres/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an authority and answer echo requests from peers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()
		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// requestMiddleware turns the configured limits into a middleware chain.
func requestMiddleware(cfg config.Config, log *zap.Logger) []engine.Middleware {
	mws := []engine.Middleware{middleware.Recover(log), middleware.Logging(log)}
	if cfg.Limits.Rate > 0 {
		burst := cfg.Limits.Burst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimitPerSender(cfg.Limits.Rate, burst))
	}
	if cfg.Limits.HandlerTimeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.Limits.HandlerTimeout))
	}
	return mws
}

func openRegistry(cfg config.Config, log *zap.Logger) (registry.Registry, func(), error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return nil, func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, log)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() { reg.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg, closeRegistry, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer closeRegistry()

	var m *manager.Manager
	opts := []server.Option{
		server.WithLogger(log),
		server.WithCodec(cfg.Codec),
		server.WithHeartbeat(cfg.Heartbeat),
		server.WithVersion(cfg.Version),
		server.WithPeerHooks(func(peer message.PeerID) {
			go queryStatus(m, peer, log)
		}, nil),
	}
	if reg != nil {
		opts = append(opts, server.WithRegistry(reg, cfg.Realm, cfg.Advertise, cfg.Registry.TTLSeconds, cfg.Registry.Weight))
	}
	srv, err := server.New(cfg.AcceptVersions, opts...)
	if err != nil {
		return err
	}
	m = manager.New(srv, manager.WithLogger(log), manager.WithTimeouts(cfg.AuthorityTimeout, cfg.PeerTimeout))
	m.Use(requestMiddleware(cfg, log)...)
	registerAPI(m)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(cfg.Listen) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	if err := srv.Shutdown(10 * time.Second); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-served
}

// queryStatus asks a newly connected peer about itself.
func queryStatus(m *manager.Manager, peer message.PeerID, log *zap.Logger) {
	err := m.AuthoritySendRequest(peer, TagStatus, &message.Empty{}, nil,
		func(_ *engine.ResponseContext, code message.ResponseCode, resp any) {
			status, _ := resp.(StatusResponse)
			log.Info("peer status", zap.Stringer("peer", peer), zap.Stringer("code", code),
				zap.String("host", status.Host), zap.Uint32("pending", status.Pending))
		}, 0)
	if err != nil {
		log.Warn("status query failed to send", zap.Stringer("peer", peer), zap.Error(err))
	}
}
