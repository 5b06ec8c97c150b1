package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"guestbook/internal/config"
	"guestbook/internal/ratelimit"
	"guestbook/internal/server"
	"guestbook/internal/servicetoken"
	"guestbook/internal/usertoken"
	"guestbook/internal/util"
	"guestbook/pkg/broker"
	"guestbook/pkg/feed"
	"guestbook/pkg/store"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	messageStore, err := newStore(cfg)
	if err != nil {
		util.Fatal("failed to init message store", "err", err)
	}
	feedBroker, err := newBroker(cfg)
	if err != nil {
		util.Fatal("failed to init feed broker", "err", err)
	}

	feedService, err := feed.New(feed.Config{
		Store:  messageStore,
		Broker: feedBroker,
		Window: cfg.FeedWindow,
	})
	if err != nil {
		util.Fatal("failed to init feed service", "err", err)
	}

	var userTokens *usertoken.Verifier
	if cfg.AuthJWKSURL != "" {
		userTokens, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:    cfg.AuthJWKSURL,
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			Leeway:     time.Duration(cfg.AuthLeewaySeconds) * time.Second,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			util.Fatal("failed to init jwks verifier", "err", err)
		}
	} else {
		logger.Warn("authJwksURL not set, all submissions will be anonymous")
	}

	var serviceTokens *servicetoken.Verifier
	if cfg.ModerationPublicKey != "" {
		serviceTokens, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.ModerationPublicKey,
			KeyID:          cfg.ModerationKeyID,
			AllowedIssuers: cfg.ModerationIssuers,
		})
		if err != nil {
			util.Fatal("failed to init moderation verifier", "err", err)
		}
	} else {
		logger.Warn("moderation key not set, visibility endpoint disabled")
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.SubmitRateLimit > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "guestbook:ratelimit",
			cfg.SubmitRateLimit, time.Duration(cfg.SubmitRateWindowSec)*time.Second)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	httpServer := server.New(server.Config{
		Feed:          feedService,
		UserTokens:    userTokens,
		ServiceTokens: serviceTokens,
		Limiter:       limiter,
		Proxies:       proxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: the stream endpoint holds connections open
		// and enforces its own per-frame deadlines.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("guestbook server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("guestbook server stopped")
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewGormStore(cfg.DatabaseURL)
	}
	slog.Warn("databaseURL not set, using in-memory message store")
	return store.NewMemoryStore(), nil
}

func newBroker(cfg config.FileConfig) (broker.Broker, error) {
	switch {
	case cfg.AMQPURL != "":
		return broker.NewAMQPBroker(cfg.AMQPURL, cfg.FeedChannel)
	case cfg.RedisAddr != "":
		return broker.NewRedisBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.FeedChannel)
	default:
		slog.Warn("no redisAddr or amqpURL set, using in-process feed broker")
		return broker.NewMemoryBroker(), nil
	}
}
