package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsvoice/internal/article"
	"github.com/hitoshi/newsvoice/internal/audio"
	"github.com/hitoshi/newsvoice/internal/awsconfig"
	"github.com/hitoshi/newsvoice/internal/config"
	"github.com/hitoshi/newsvoice/internal/database"
	"github.com/hitoshi/newsvoice/internal/handler"
	"github.com/hitoshi/newsvoice/internal/lease"
	"github.com/hitoshi/newsvoice/internal/logger"
	"github.com/hitoshi/newsvoice/internal/metrics"
	"github.com/hitoshi/newsvoice/internal/middleware"
	"github.com/hitoshi/newsvoice/internal/objectstore"
	"github.com/hitoshi/newsvoice/internal/repository"
	"github.com/hitoshi/newsvoice/internal/speech"
	"github.com/hitoshi/newsvoice/internal/worker/prewarm"
)

// shutdownTimeout はグレースフルシャットダウンの最大待機時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("role", cmd.Role()),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// buildAudioController は音声キャッシュ制御とそのバックエンドを構築する。
// REDIS_URLが設定されている場合はプロセス間ロックを有効にする。
// 戻り値のcleanupでRedis接続を閉じる。
func buildAudioController(
	ctx context.Context,
	cfg *config.Config,
	store audio.Store,
	recorder audio.Recorder,
) (*audio.Controller, func(), error) {
	awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, nil, err
	}

	synthesizer := speech.NewPollySynthesizer(polly.NewFromConfig(awsCfg), speech.Config{
		Bucket:       cfg.TTSBucketName,
		KeyPrefix:    cfg.AudioKeyPrefix,
		VoiceID:      cfg.PollyVoiceID,
		Engine:       cfg.PollyEngine,
		OutputFormat: cfg.PollyOutputFormat,
	}, slog.Default())

	issuer := objectstore.NewS3URLIssuer(
		objectstore.NewS3Presigner(awsCfg), cfg.TTSBucketName, cfg.URLLifetime,
	)

	controller := audio.NewController(store, synthesizer, issuer, audio.Policy{
		URLLifetime:        cfg.URLLifetime,
		URLSafetyMargin:    cfg.URLSafetyMargin,
		StabilizationDelay: cfg.StabilizationDelay,
		StabilizeOnRefresh: cfg.StabilizeOnRefresh,
		SynthesisTimeout:   cfg.SynthesisTimeout,
		URLIssueTimeout:    cfg.URLIssueTimeout,
	}, slog.Default()).WithRecorder(recorder)

	cleanup := func() {}
	if cfg.RedisURL != "" {
		locker, err := lease.NewRedisLockerWithURL(cfg.RedisURL, cfg.LeaseTTL, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := locker.Ping(pingCtx); err != nil {
			locker.Close()
			return nil, nil, err
		}
		controller.WithLocker(locker)
		cleanup = func() {
			if err := locker.Close(); err != nil {
				slog.Warn("failed to close redis client", slog.String("error", err.Error()))
			}
		}
		slog.Info("redis lease enabled", slog.Duration("lease_ttl", cfg.LeaseTTL))
	}

	return controller, cleanup, nil
}

// newMetrics はプロセス単位のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// serverWriteTimeout は記事音声要求が初回合成を待てる書き込みタイムアウトを返す。
func serverWriteTimeout(cfg *config.Config) time.Duration {
	return cfg.SynthesisTimeout + cfg.URLIssueTimeout + cfg.StabilizationDelay + 15*time.Second
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとメトリクスの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	reg, collector := newMetrics()

	// 3. ドメインサービスの初期化
	controller, cleanup, err := buildAudioController(context.Background(), cfg, articleRepo, collector)
	if err != nil {
		return fmt.Errorf("failed to build audio controller: %w", err)
	}
	defer cleanup()

	articleService := article.NewService(articleRepo)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute, cfg.ReadArticleRateLimitPerMinute),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		ArticleService:    articleService,
		AudioService:      controller,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: serverWriteTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はHTTPサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、音声の事前合成スケジューラを起動する。
// ヘルスチェックとメトリクスのために運用用HTTPサーバーも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとメトリクスの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	reg, collector := newMetrics()

	// 3. 音声キャッシュ制御の初期化（APIと同じ制御を通す）
	controller, cleanup, err := buildAudioController(context.Background(), cfg, articleRepo, collector)
	if err != nil {
		return fmt.Errorf("failed to build audio controller: %w", err)
	}
	defer cleanup()

	// 4. スケジューラの初期化
	scheduler := prewarm.NewScheduler(
		articleRepo, controller, collector, slog.Default(),
		cfg.PrewarmBatchSize, cfg.PrewarmMaxConcurrent,
	).WithFailureBackoff(cfg.PrewarmFailureBackoff)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			slog.Info("shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// 5. 運用用HTTPサーバー（/health, /metrics）
	opsRouter := chi.NewRouter()
	opsRouter.Get("/health", handler.NewHealthHandler(db))
	opsRouter.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      opsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("prewarm_interval", cfg.PrewarmInterval),
		slog.Int("batch_size", cfg.PrewarmBatchSize),
		slog.Int("max_concurrent", cfg.PrewarmMaxConcurrent),
	)

	// 事前合成スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.PrewarmInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
