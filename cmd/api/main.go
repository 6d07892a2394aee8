package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/auth/entra"
	"github.com/onixbyte/helix/internal/auth/wecom"
	"github.com/onixbyte/helix/internal/cache"
	"github.com/onixbyte/helix/internal/config"
	"github.com/onixbyte/helix/internal/httpapi"
	"github.com/onixbyte/helix/internal/obs"
	"github.com/onixbyte/helix/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "helix-api",
		Short:         "Helix authentication API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (HELIX_* variables override it)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC health servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", obs.ServiceName, version, commit)
		},
	}
	root.AddCommand(serve, versionCmd)
	return root
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := obs.NewLogger(cfg.Environment, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	probe := httpapi.ReadyProbe{DB: store}
	var shared cache.Store
	if len(cfg.Redis.Addrs) > 0 {
		redisStore := cache.NewRedis(cache.NewRedisClient(cache.RedisOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), cfg.Redis.Prefix)
		defer redisStore.Close()
		shared = redisStore
		probe.Cache = redisStore
		logger.Info("using redis cache", zap.Strings("addrs", cfg.Redis.Addrs))
	} else {
		shared = cache.NewMemory()
		logger.Warn("redis not configured, using in-process cache")
	}

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:    cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
		ValidTime: cfg.JWT.ValidTime,
	})
	if err != nil {
		return err
	}
	resolver := auth.NewAuthorityResolver(store, shared,
		auth.WithAuthorityTTL(cfg.Cache.AuthorityTTL),
		auth.WithResolverLogger(logger.Named("authorities")))

	upstream := &http.Client{Timeout: cfg.Upstream.Timeout}
	verifiers := []auth.Verifier{auth.NewLocalVerifier(store, nil)}

	if cfg.Entra.Enabled() {
		keys := entra.NewKeyCache(cfg.Entra.TenantID, shared,
			entra.WithHTTPClient(upstream),
			entra.WithHost(cfg.Entra.Host),
			entra.WithKeyTTL(cfg.Entra.KeyTTL),
			entra.WithKeyLogger(logger.Named("entra")))
		v, err := entra.NewVerifier(entra.Config{TenantID: cfg.Entra.TenantID, ClientID: cfg.Entra.ClientID},
			keys, store, entra.WithLogger(logger.Named("entra")))
		if err != nil {
			return err
		}
		verifiers = append(verifiers, v)
		logger.Info("entra sign-in enabled", zap.String("tenant_id", cfg.Entra.TenantID))
	}

	var weComVerifier *wecom.Verifier
	if cfg.WeCom.Enabled() {
		client, err := wecom.NewClient(wecom.Config{
			CorpID:        cfg.WeCom.CorpID,
			Secret:        cfg.WeCom.Secret,
			AgentID:       cfg.WeCom.AgentID,
			Host:          cfg.WeCom.Host,
			AuthorizeHost: cfg.WeCom.AuthorizeHost,
			RedirectURL:   cfg.WeCom.RedirectURL,
		}, shared, wecom.WithHTTPClient(upstream), wecom.WithClientLogger(logger.Named("wecom")))
		if err != nil {
			return err
		}
		weComVerifier = wecom.NewVerifier(client, store, wecom.WithLogger(logger.Named("wecom")))
		verifiers = append(verifiers, weComVerifier)
		logger.Info("wecom sign-in enabled", zap.Int64("agent_id", cfg.WeCom.AgentID))
	}

	svc, err := auth.NewService(store, resolver, tokens,
		auth.WithVerifiers(verifiers...),
		auth.WithLogger(logger.Named("auth")))
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Auth:           svc,
		Roles:          auth.NewRoleAssignments(store, resolver, logger.Named("rbac")),
		Ready:          probe,
		Limiter:        httpapi.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		Logger:         logger.Named("http"),
		Version:        version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustProxy:     cfg.HTTP.TrustProxy,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go api.Limiter().Run(runCtx)

	health := httpapi.NewHealthServer(probe, logger.Named("grpc"))
	go health.Run(runCtx, healthInterval)
	grpcServer := httpapi.NewGRPCServer(health)
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(grpcLis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
		logger.Error("server failed", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if weComVerifier != nil {
		weComVerifier.Wait()
	}
	logger.Info("stopped")
	return runErr
}
