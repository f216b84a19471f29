package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/marketgate/internal/config"
	"github.com/nao1215/marketgate/internal/gateway"
	"github.com/nao1215/marketgate/pkg/logger"
	"github.com/nao1215/marketgate/pkg/proxy"
	"github.com/nao1215/marketgate/pkg/ratelimit"
	"github.com/nao1215/marketgate/pkg/revocation"
	"github.com/nao1215/marketgate/pkg/route"
	"github.com/nao1215/marketgate/pkg/token"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Gatewayサーバーを起動する",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routes, err := route.LoadFile(cfg.RoutesFile)
	if err != nil {
		return err
	}
	table, err := route.NewTable(routes)
	if err != nil {
		return err
	}
	codec, err := token.NewCodec([]byte(cfg.JWTSecret), token.WithIssuer(cfg.TokenIssuer))
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(cfg.RateLimit())
	if err != nil {
		return err
	}

	comps, err := openComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			log.Warn().Err(err).Msg("接続のクローズに失敗")
		}
	}()

	server, err := gateway.NewServer(gateway.Options{
		Port:               cfg.Port,
		TokenTTL:           cfg.TokenTTL,
		SubjectHeader:      cfg.RateLimitSubjectHeader,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ShutdownTimeout:    cfg.ShutdownTimeout,
	}, gateway.Deps{
		Codec:       codec,
		Revocations: comps.store,
		Limiter:     limiter,
		Routes:      table,
		Forwarder: proxy.New(proxy.Config{
			Timeout:              cfg.UpstreamTimeout,
			ForwardAuthorization: cfg.ForwardAuthorization,
		}, log),
		Credentials: comps.credentials,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	log.Info().
		Int("routes", len(routes)).
		Str("revocation_backend", cfg.RevocationBackend).
		Bool("member_service", cfg.MemberServiceURL != "").
		Msg("Gatewayサービスを起動します")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		return revocation.NewPurger(comps.store, cfg.RevocationPurgeInterval, log).Run(gctx)
	})
	g.Go(func() error { return limiter.RunSweeper(gctx, cfg.RateLimitSweepInterval) })
	return g.Wait()
}
