package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"winechat/internal/httpserver"
	"winechat/internal/security"
	"winechat/internal/service"
	"winechat/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var relay ws.Relay
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		relay = ws.NewRedisRelay(rdb, cfg.RedisChannel, log)
		log.Info("cross-instance relay enabled", zap.String("channel", cfg.RedisChannel))
	}

	hub := ws.NewHub(relay, log)

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	auth := service.NewAuthService(a.repos.Users, tokens, security.NewPasswordHasher(0))
	messaging := service.NewMessaging(a.repos, service.MessagingOptions{
		Broadcaster:     hub,
		Logger:          log,
		DefaultPageSize: cfg.MessagesPageSize,
		MaxPageSize:     cfg.MessagesMaxPageSize,
	})

	live := ws.NewHandler(hub, auth, messaging, ws.Options{
		AllowedOrigins:    cfg.CORSOrigins,
		SendBuffer:        cfg.WSSendBuffer,
		HandshakeTimeout:  cfg.WSHandshakeTimeout,
		CommandTimeout:    cfg.WSCommandTimeout,
		CommandsPerSecond: cfg.WSCommandsPerSecond,
		MaxFrameBytes:     cfg.WSMaxFrameBytes,
	}, log)

	router := httpserver.NewRouter(cfg, httpserver.Services{
		Auth:      auth,
		Users:     service.NewUserService(a.repos.Users, log),
		Messaging: messaging,
		Live:      live,
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
