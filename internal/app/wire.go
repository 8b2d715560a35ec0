package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/groboclown/GroboRSS/internal/backup"
	"github.com/groboclown/GroboRSS/internal/config"
	"github.com/groboclown/GroboRSS/internal/feed"
	"github.com/groboclown/GroboRSS/internal/feedparser"
	"github.com/groboclown/GroboRSS/internal/httpfetch"
	"github.com/groboclown/GroboRSS/internal/imagecache"
	"github.com/groboclown/GroboRSS/internal/ingest"
	"github.com/groboclown/GroboRSS/internal/metrics"
	"github.com/groboclown/GroboRSS/internal/repository"
	"github.com/groboclown/GroboRSS/internal/rewrite"
	"github.com/groboclown/GroboRSS/internal/security"
	"github.com/groboclown/GroboRSS/internal/worker/cleanup"
)

// components はサブコマンドが使う依存関係一式。
type components struct {
	feeds    *repository.PostgresFeedRepo
	entries  *repository.PostgresEntryRepo
	images   *imagecache.Cache
	ingest   *ingest.Service
	feed     *feed.FeedService
	backup   *backup.Service
	cleanup  *cleanup.CleanupJob
	rewriter *rewrite.Rewriter
	registry *prometheus.Registry
}

// buildComponents は設定に従って依存関係を組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	feedRepo := repository.NewPostgresFeedRepo(db)
	entryRepo := repository.NewPostgresEntryRepo(db)
	tableRepo := repository.NewPostgresTableRepo(db)

	// 3. 接続層
	var provider httpfetch.ClientProvider
	var validator feed.URLValidator = schemeValidator{}
	if cfg.FetchSSRFGuard {
		guard := security.NewSSRFGuard()
		provider = guard
		validator = guard
	}
	factory, err := httpfetch.NewFactory(httpfetch.Options{
		Online:                  cfg.FetchOnline,
		ProxyURL:                cfg.FetchProxyURL,
		ImposeUserAgent:         cfg.FetchImposeUserAgent,
		FollowProtocolRedirects: cfg.FetchFollowProtocolRedirects,
		Timeout:                 cfg.FetchTimeout,
		MaxBodySize:             cfg.FetchMaxSize,
	}, provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	// 4. 画像キャッシュと本文整形
	images := imagecache.New(cfg.ImageCacheDir, factory, cfg.ImageFetchRate, collector, logger)
	var sink feedparser.ImageSink
	if cfg.FetchImages {
		sink = images
	}
	var sanitizer rewrite.Sanitizer
	if cfg.SanitizeEntries {
		sanitizer = security.NewEntrySanitizer()
	}
	cleaner := rewrite.NewCleaner(rewrite.CleanerOptions{
		FetchImages:    cfg.FetchImages,
		ImageURLPrefix: cfg.ImageCacheURL,
	}, rewrite.NewLinkedImageResolver(factory, logger), sanitizer)

	// 5. 取り込み
	handler := feedparser.NewHandler(
		repository.NewEntryStore(feedRepo, entryRepo),
		cleaner, sink,
		feedparser.Options{KeepDays: cfg.KeepDays, EfficientParsing: cfg.EfficientParsing},
		logger,
	)
	ingestSvc := ingest.NewService(feedRepo, factory, handler, collector, logger).
		WithFeedLocker(repository.NewPostgresFeedLock(db, logger))

	return &components{
		feeds:    feedRepo,
		entries:  entryRepo,
		images:   images,
		ingest:   ingestSvc,
		feed:     feed.NewFeedService(feedRepo, entryRepo, validator, ingestSvc, images, logger),
		backup:   backup.NewService(tableRepo, feedRepo, logger),
		cleanup:  cleanup.NewCleanupJob(entryRepo, images, cfg.KeepDays, collector, logger),
		rewriter: rewrite.NewRewriter(rewrite.Settings{DisablePictures: cfg.DisablePictures, StripWebBugs: cfg.StripWebBugs}),
		registry: registry,
	}, nil
}

// schemeValidator はSSRFガードを無効にした場合のURL検証。http/httpsの絶対URLだけを受け付ける。
type schemeValidator struct{}

func (schemeValidator) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
