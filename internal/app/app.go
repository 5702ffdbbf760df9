package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/shownotifier/internal/config"
	"github.com/hitoshi/shownotifier/internal/crawler"
	"github.com/hitoshi/shownotifier/internal/database"
	"github.com/hitoshi/shownotifier/internal/logger"
	"github.com/hitoshi/shownotifier/internal/metrics"
	"github.com/hitoshi/shownotifier/internal/model"
	"github.com/hitoshi/shownotifier/internal/notifier"
	"github.com/hitoshi/shownotifier/internal/repository"
	"github.com/hitoshi/shownotifier/internal/security"
	"github.com/hitoshi/shownotifier/internal/worker/cleanup"
	"github.com/hitoshi/shownotifier/internal/worker/crawl"
)

// 起動時のDB疎通確認とTelegram APIクライアントのタイムアウト。
const (
	dbPingTimeout   = 10 * time.Second
	telegramTimeout = 30 * time.Second
	metricsTimeout  = 10 * time.Second
)

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

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runOnce(cfg)
	}
}

// runOnce は全ソースを1回巡回し、新着を通知してから終了する。
// SIGINTまたはSIGTERMを受信した場合は残りのソースをスキップし、受付済みの通知を配信してから終了する。
func runOnce(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default().With(slog.String("run_id", uuid.NewString()))

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established")

	// 2. リポジトリの初期化
	showRepo := repository.NewPostgresShowRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewStrictSanitizer()

	// 4. 通知ゲートウェイの初期化（Bot認証に失敗した場合は起動失敗）
	bot, err := notifier.NewTelegramSender(
		cfg.TelegramToken, cfg.TelegramAPIEndpoint,
		&http.Client{Timeout: telegramTimeout}, log,
	)
	if err != nil {
		return err
	}
	gateway := notifier.NewGateway(bot, sanitizer, collector, log, notifier.Options{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	})

	// 5. クローラーの登録
	fetcher := crawler.NewFetcher(ssrfGuard, collector, log, crawler.FetcherOptions{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.FetchUserAgent,
	})
	crawlers := newCrawlerRegistry(cfg, fetcher, showRepo, log)
	log.Info("クローラーを登録しました", slog.Any("sources", crawlers.Sources()))

	// 6. 巡回
	processor := crawl.NewProcessor(showRepo, subRepo, gateway, collector, log)
	scheduler := crawl.NewScheduler(showRepo, crawlers, processor, collector, log, cfg.ShowConcurrency)

	runErr := scheduler.RunOnce(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Warn("シグナルを受信したため巡回を中断しました")
		runErr = nil
	}

	// 7. 受付済みの通知を配信しきってから終了する
	if err := gateway.Shutdown(cfg.NotifyShutdownTimeout); err != nil {
		log.Error("通知ゲートウェイの停止がタイムアウトしました",
			slog.String("error", err.Error()),
		)
	}

	// 8. Botをブロックしたユーザーを次回以降の通知対象から外す
	deactivation := cleanup.NewDeactivationJob(db, log)
	if err := deactivation.Run(context.Background(), gateway.BlockedChats()); err != nil {
		log.Error("ユーザーの無効化に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	collector.MarkRunCompleted(time.Now())
	pushMetrics(cfg.MetricsPushgatewayURL, registry, log)

	if runErr != nil {
		return runErr
	}

	log.Info("run completed")
	return nil
}

// newCrawlerRegistry はソース名とクローラーの対応表を組み立てる。
func newCrawlerRegistry(cfg *config.Config, fetcher *crawler.Fetcher, shows crawler.ShowLister, log *slog.Logger) *crawler.Registry {
	r := crawler.NewRegistry()
	r.Register(model.SourceAlexFilm,
		crawler.NewFeedCrawler(model.SourceAlexFilm, cfg.AlexFilmFeedURL, nil, shows, fetcher, log))
	r.Register(model.SourceLostFilm,
		crawler.NewListingCrawler(model.SourceLostFilm, cfg.LostFilmURL, fetcher, log))
	r.Register(model.SourceNewStudio,
		crawler.NewForumCrawler(model.SourceNewStudio, shows, fetcher, log))
	return r
}

// pushMetrics はPushgatewayが設定されている場合のみメトリクスを送信する。
// 送信の失敗は実行結果に影響させない。
func pushMetrics(gatewayURL string, gatherer prometheus.Gatherer, log *slog.Logger) {
	if gatewayURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
	defer cancel()

	if err := metrics.Push(ctx, gatewayURL, gatherer); err != nil {
		log.Error("メトリクスの送信に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL, slog.Default()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
