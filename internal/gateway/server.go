package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/marketgate/pkg/credential"
	"github.com/nao1215/marketgate/pkg/middleware"
	"github.com/nao1215/marketgate/pkg/proxy"
	"github.com/nao1215/marketgate/pkg/ratelimit"
	"github.com/nao1215/marketgate/pkg/revocation"
	"github.com/nao1215/marketgate/pkg/route"
	"github.com/nao1215/marketgate/pkg/token"
)

// Options はサーバーの動作設定。
type Options struct {
	// Port はリッスンポート。
	Port string
	// TokenTTL はログイン時に発行するトークンの有効期間。
	TokenTTL time.Duration
	// SubjectHeader は流量制御で会員を識別するヘッダー。空なら使わない。
	SubjectHeader string
	// CORSAllowedOrigins はクロスオリジンを許可するオリジン。
	CORSAllowedOrigins []string
	// ShutdownTimeout はシャットダウン時に処理中のリクエストを待つ上限時間。
	ShutdownTimeout time.Duration
	// Now は現在時刻を返す関数。nilならtime.Now。
	Now func() time.Time
}

// Deps はサーバーが使用するコンポーネント。全て必須。
type Deps struct {
	Codec       *token.Codec
	Revocations revocation.Store
	Limiter     *ratelimit.Limiter
	Routes      *route.Table
	Forwarder   *proxy.Forwarder
	Credentials credential.Validator
	Log         zerolog.Logger
}

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// opts は動作設定。
	opts Options

	codec       *token.Codec
	revocations revocation.Store
	limiter     *ratelimit.Limiter
	routes      *route.Table
	forwarder   *proxy.Forwarder
	credentials credential.Validator
	log         zerolog.Logger
	metrics     *metrics
	now         func() time.Time

	// admission は転送対象のリクエストに適用するフィルタ列。
	admission *Pipeline
	// local はゲートウェイ自身が処理するエンドポイントに適用するフィルタ列。
	local *Pipeline
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Codec == nil || deps.Revocations == nil || deps.Limiter == nil ||
		deps.Routes == nil || deps.Forwarder == nil || deps.Credentials == nil {
		return nil, errors.New("gateway: 依存コンポーネントが不足しています")
	}
	if opts.TokenTTL <= 0 {
		return nil, errors.New("gateway: TokenTTLは正の値が必要です")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		opts:        opts,
		codec:       deps.Codec,
		revocations: deps.Revocations,
		limiter:     deps.Limiter,
		routes:      deps.Routes,
		forwarder:   deps.Forwarder,
		credentials: deps.Credentials,
		log:         deps.Log.With().Str("component", "gateway").Logger(),
		now:         now,
	}
	s.metrics = newMetrics(func() float64 { return float64(s.limiter.Len()) })
	s.admission = newPipeline(s.metrics, s.checkRate, s.authenticate, s.resolveRoute, s.authorize, s.forward)
	s.local = newPipeline(s.metrics, s.checkRate)

	router := gin.New()
	// 末尾スラッシュの補正でリダイレクトすると流量制御を通らない応答ができるため無効にする
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(s.log))
	router.Use(middleware.Recovery(s.log))
	router.Use(middleware.CORS(opts.CORSAllowedOrigins))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	local := s.router.Group("/", s.local.Middleware())
	{
		auth := local.Group("/auth")
		auth.POST("/login", s.handleLogin())
		auth.POST("/logout", s.handleLogout())
		auth.GET("/check-revoked", s.handleCheckRevoked())
		auth.POST("/check-revoked", s.handleCheckRevoked())

		// ヘルスチェック
		local.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
		})
		local.GET("/metrics", gin.WrapH(s.metrics.handler()))
	}

	// それ以外の全てのパスはルーティングテーブルに従って転送する
	s.router.NoRoute(s.admission.Handle)
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("Gatewayサーバーを起動します")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("Gatewayサーバーを停止します")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}
