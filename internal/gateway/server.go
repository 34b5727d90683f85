package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/edgegate/internal/audit"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/dispatch"
	"github.com/nao1215/edgegate/internal/identity"
	"github.com/nao1215/edgegate/internal/metrics"
	"github.com/nao1215/edgegate/internal/ratelimit"
	"github.com/nao1215/edgegate/internal/registry"
	"github.com/nao1215/edgegate/internal/route"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// Dispatcher はバックエンドへの転送を行う。dispatch.Dispatcher が満たす。
type Dispatcher interface {
	Dispatch(ctx context.Context, rt route.Route, r *http.Request, id *identity.Identity) (dispatch.Outcome, error)
}

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// serviceName は /health と /version で返すサービス名。
	serviceName string
	// version は /version で返すバージョン。
	version string
	// routes はパスプレフィックスとサービスの対応表。
	routes *route.Table
	// verifier はベアラートークンの検証器。
	verifier *identity.Verifier
	// admission はレート制限の判定器。
	admission *ratelimit.Controller
	// dispatcher はバックエンドへの転送器。
	dispatcher Dispatcher
	// audit はトラフィックイベントの配送先。
	audit audit.Sink
	// metrics はPrometheusメトリクス。nilの場合は記録しない。
	metrics *metrics.Metrics
	// logger は構造化ロガー。
	logger *zap.Logger
	// optionalAuthLog は任意認証ルートでの検証失敗ログを間引く。
	optionalAuthLog *rate.Sometimes
	// now は現在時刻の取得関数。
	now func() time.Time

	bodyLimit         int64
	corsOrigins       []string
	shutdownTimeout   time.Duration
	readHeaderTimeout time.Duration
	// closers はシャットダウン時に逆順で呼ばれる後始末。
	closers []func(context.Context) error
}

// NewServer は設定から依存関係を組み立ててGatewayサーバーを生成する。
// ルート表やサービス定義が不正な場合はエラーを返す。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := cfg.ServiceEntries()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(entries...)
	if err != nil {
		return nil, fmt.Errorf("サービスレジストリの構築に失敗: %w", err)
	}
	routes, err := route.NewTable(cfg.RouteList(), reg)
	if err != nil {
		return nil, err
	}
	bodyLimit, err := cfg.BodyLimitBytes()
	if err != nil {
		return nil, err
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRET が未設定のため開発用の署名鍵を使用します。本番環境では必ず設定してください")
	}
	verifierOpts := []identity.VerifierOption{identity.WithLeeway(cfg.Auth.Leeway)}
	if cfg.Auth.VerifyIssuer {
		verifierOpts = append(verifierOpts, identity.WithIssuer(cfg.Auth.Issuer))
	}

	m := metrics.New()
	s := &Server{
		port:              cfg.Server.Port,
		serviceName:       cfg.Server.ServiceName,
		version:           cfg.Server.Version,
		routes:            routes,
		verifier:          identity.NewVerifier(cfg.Auth.JWTSecret, verifierOpts...),
		metrics:           m,
		logger:            logger,
		optionalAuthLog:   &rate.Sometimes{Interval: 10 * time.Second},
		now:               time.Now,
		bodyLimit:         bodyLimit,
		corsOrigins:       cfg.Server.CORSOrigins,
		shutdownTimeout:   cfg.Server.ShutdownTimeout,
		readHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	store, err := s.newRateLimitStore(cfg)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}
	s.admission = ratelimit.NewController(store, ratelimit.Config{
		Limit:       cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window(),
		ExemptPaths: cfg.RateLimit.ExemptPaths,
		KeyFunc:     ratelimit.ClientAddrKey(cfg.RateLimit.TrustProxy),
	}, logger.Named("ratelimit"))

	sink, err := s.newAuditSink(cfg)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}
	s.audit = sink

	s.dispatcher = dispatch.New(reg,
		dispatch.WithHTTPClient(httpclient.New(httpclient.NewTransport(httpclient.DefaultTransportConfig()))),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(m),
		dispatch.WithBackoff(cfg.Dispatch.RetryBackoff),
		dispatch.WithBreaker(dispatch.BreakerConfig{
			Threshold:   cfg.Dispatch.BreakerThreshold,
			OpenTimeout: cfg.Dispatch.BreakerOpenTimeout,
		}),
	)

	s.router = newRouter()
	s.setupRoutes()
	return s, nil
}

// newRateLimitStore は設定に応じたウィンドウの保存先を生成する。
func (s *Server) newRateLimitStore(cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		return ratelimit.NewRedisStore(client, ""), nil
	default:
		store := ratelimit.NewMemoryStore(s.logger.Named("ratelimit"))
		ctx, cancel := context.WithCancel(context.Background())
		store.StartJanitor(ctx, cfg.RateLimit.SweepInterval, nil)
		s.closers = append(s.closers, func(context.Context) error { cancel(); return nil })
		return store, nil
	}
}

// newAuditSink は設定に応じた監査イベントの配送先を生成する。
func (s *Server) newAuditSink(cfg *config.Config) (audit.Sink, error) {
	var next audit.Sink
	switch cfg.Audit.Backend {
	case "memory":
		next = audit.NewMemorySink()
	case "sqlite":
		db, err := audit.OpenSQLite(context.Background(), cfg.Audit.SQLitePath, s.logger.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("監査データベースの初期化に失敗: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
		next = db
	default:
		return audit.NopSink{}, nil
	}
	async := audit.NewAsyncSink(next, cfg.Audit.Buffer, s.logger.Named("audit"))
	s.closers = append(s.closers, async.Close)
	return async, nil
}

func newRouter() *gin.Engine {
	router := gin.New()
	// パスはそのままバックエンドへ転送するため、Ginによる補正は行わない
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	return router
}

// setupRoutes はミドルウェアとルーティングを設定する。
func (s *Server) setupRoutes() {
	// 外側のRecoveryはアクセスログ等のミドルウェア自身のパニックを受け止める
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AccessLog(s.logger.Named("http")))
	s.router.Use(s.observeResponse())
	// 内側のRecoveryはハンドラのパニックを500としてアクセスログとメトリクスに残す
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.CORS(middleware.DefaultCORSConfig(s.corsOrigins)))
	s.router.Use(middleware.BodyLimit(s.bodyLimit))

	s.router.GET("/health", s.handleHealth())
	s.router.HEAD("/health", s.handleHealth())
	s.router.GET("/version", s.handleVersion())
	s.router.HEAD("/version", s.handleVersion())
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		s.router.HEAD("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// その他のパスはすべてパイプラインで処理する
	s.router.NoRoute(s.handlePipeline())
}

// observeResponse はレスポンスのステータスコードを記録するミドルウェアを返す。
func (s *Server) observeResponse() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.metrics.ObserveResponse(strconv.Itoa(c.Writer.Status()))
	}
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はctxがキャンセルされるまでHTTPサーバーを起動し、その後グレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API Gatewayを起動します",
			zap.String("addr", srv.Addr),
			zap.String("service", s.serviceName),
			zap.String("version", s.version),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("シャットダウンを開始します", zap.Duration("timeout", timeout))
	err := srv.Shutdown(shutdownCtx)
	s.close(shutdownCtx)
	if err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	s.logger.Info("シャットダウンが完了しました")
	return nil
}

// close は登録された後始末を逆順に実行する。
func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("リソースの解放に失敗", zap.Error(err))
		}
	}
	s.closers = nil
}
