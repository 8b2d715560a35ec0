package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groboclown/GroboRSS/internal/config"
	"github.com/groboclown/GroboRSS/internal/database"
	"github.com/groboclown/GroboRSS/internal/handler"
	"github.com/groboclown/GroboRSS/internal/ingest"
	"github.com/groboclown/GroboRSS/internal/logger"
	"github.com/groboclown/GroboRSS/internal/metrics"
	"github.com/groboclown/GroboRSS/internal/middleware"
	"github.com/groboclown/GroboRSS/internal/seed"
)

// cleanupInterval は期限切れ記事の削除間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, commandArg(args, 0))
	case CommandServe, CommandWorker, CommandRefresh, CommandSeed, CommandExport, CommandImport:
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, db)
	case CommandRefresh:
		return runRefresh(cfg, db, commandArg(args, 0))
	case CommandSeed:
		return runSeed(cfg, db)
	case CommandExport:
		return runExport(cfg, db, commandArg(args, 0))
	case CommandImport:
		return runImport(cfg, db, commandArg(args, 0))
	default:
		return runServe(cfg, db)
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

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe は管理APIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, db *sql.DB) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		FeedService:    c.feed,
		EntryService:   c.feed,
		BackupService:  c.backup,
		Renderer:       c.rewriter,
		Pinger:         db,
		MetricsHandler: metrics.Handler(c.registry),
		RateLimiter:    rateLimiter,
		Logger:         slog.Default(),
	})

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// 手動更新はフィードの取得を待つ
		WriteTimeout: cfg.FetchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// runWorker はワーカーモードで起動する。
// 巡回スケジューラと日次のクリーンアップを実行し、/healthと/metricsを公開する。
func runWorker(cfg *config.Config, db *sql.DB) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(db, slog.Default()))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(c.registry))
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("keep_days", cfg.KeepDays),
	)

	go c.cleanup.Start(ctx, cleanupInterval)

	// 巡回スケジューラをメインgoroutineで実行（ブロッキング）
	ingest.NewScheduler(c.ingest, slog.Default()).Start(ctx, cfg.FetchInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runRefresh は1回だけ巡回して終了する。feedIDを指定した場合はそのフィードだけを取得する。
func runRefresh(cfg *config.Config, db *sql.DB, feedID string) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if feedID == "" {
		ingest.NewScheduler(c.ingest, slog.Default()).RunOnce(ctx)
		return nil
	}

	result, err := c.ingest.RefreshFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	slog.Info("feed refreshed", slog.String("feed_id", feedID), slog.Int("new_entries", result.NewCount))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionが"down"の場合は最後のマイグレーションを1つ巻き戻し、それ以外は未適用分をすべて適用する。
func runMigrate(cfg *config.Config, direction string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	if direction == "down" {
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migration rolled back")
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed はFEEDS_DIRのYAML定義から未登録のフィードを登録する。
func runSeed(cfg *config.Config, db *sql.DB) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	defs, err := seed.NewLoader(cfg.FeedsDir).LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load feed definitions: %w", err)
	}

	added, err := seed.Apply(context.Background(), c.feeds, defs, slog.Default())
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed",
		slog.String("feeds_dir", cfg.FeedsDir),
		slog.Int("definitions", len(defs)),
		slog.Int("added", added),
	)
	return nil
}

// runExport はバックアップをファイル（省略時は標準出力）に書き出す。
// 拡張子が.opmlの場合はフィード一覧をOPMLで書き出す。
func runExport(cfg *config.Config, db *sql.DB, path string) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	ctx := context.Background()
	if isOPML(path) {
		err = c.backup.ExportOPML(ctx, out)
	} else {
		err = c.backup.Export(ctx, out)
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

// runImport はバックアップをファイル（省略時は標準入力）から取り込む。
// 拡張子が.opmlの場合は未登録のフィードだけを追加し、それ以外は全テーブルを置き換える。
func runImport(cfg *config.Config, db *sql.DB, path string) error {
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	if isOPML(path) {
		added, err := c.backup.ImportOPML(ctx, in)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		slog.Info("opml imported", slog.Int("added", added))
		return nil
	}

	if err := c.backup.Import(ctx, in); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}

// serveUntilSignal はサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down " + name + "...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func isOPML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".opml")
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
