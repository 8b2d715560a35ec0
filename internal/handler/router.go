package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/groboclown/GroboRSS/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	FeedService   FeedServiceInterface
	EntryService  EntryServiceInterface
	BackupService BackupServiceInterface
	Renderer      Renderer

	// Pinger はヘルスチェックで使う。nilならDB疎通を確認しない。
	Pinger Pinger
	// MetricsHandler は/metricsで公開するハンドラー。nilなら公開しない。
	MetricsHandler http.Handler
	// RateLimiter は外部への取得を伴う操作に適用する。nilなら制限しない。
	RateLimiter *middleware.RateLimiter

	Logger *slog.Logger
}

// NewRouter は管理APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	feedHandler := NewFeedHandler(deps.FeedService, deps.Logger)
	entryHandler := NewEntryHandler(deps.EntryService, deps.Renderer, deps.Logger)
	backupHandler := NewBackupHandler(deps.BackupService, deps.Logger)

	limited := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limited = deps.RateLimiter.Middleware()
	}

	r.Get("/health", NewHealthHandler(deps.Pinger, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// フィード管理
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", feedHandler.ListFeeds)
			r.With(limited).Post("/", feedHandler.RegisterFeed)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", feedHandler.GetFeed)
				r.Delete("/", feedHandler.DeleteFeed)
				r.With(limited).Post("/refresh", feedHandler.RefreshFeed)
				r.Get("/entries", feedHandler.ListEntries)
			})
		})

		// 記事本文
		r.With(middleware.NewEntryContentPolicyMiddleware()).
			Get("/entries/{id}/html", entryHandler.GetEntryHTML)

		// バックアップ
		r.Get("/backup", backupHandler.Export)
		r.Post("/backup", backupHandler.Import)
		r.Get("/opml", backupHandler.ExportOPML)
		r.With(limited).Post("/opml", backupHandler.ImportOPML)
	})

	return r
}
