// Package ingest はフィードの巡回を行う。
// 接続の確立、取得方式の判定、faviconの取得、パーサーの駆動、失敗時のフィード状態の記録を担う。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/groboclown/GroboRSS/internal/feedparser"
	"github.com/groboclown/GroboRSS/internal/httpfetch"
	"github.com/groboclown/GroboRSS/internal/metrics"
	"github.com/groboclown/GroboRSS/internal/model"
	"github.com/groboclown/GroboRSS/internal/rewrite"
)

// FeedStore は巡回に必要なフィードの読み書き。repository.FeedRepositoryが満たす。
type FeedStore interface {
	FindByID(ctx context.Context, id string) (*model.Feed, error)
	List(ctx context.Context) ([]*model.Feed, error)
	UpdateMetadata(ctx context.Context, id string, update model.FeedUpdate) error
}

// Connector はURLへの接続を生成する。httpfetch.Factoryが実装する。
type Connector interface {
	Connect(ctx context.Context, rawURL string) (*httpfetch.Connection, error)
}

// FeedLocker はプロセスをまたいでフィード単位の排他を取る。
// 返された関数でロックを解放する。repository.PostgresFeedLockが実装する。
type FeedLocker interface {
	LockFeed(ctx context.Context, feedID string) (func(), error)
}

// Result は1回の巡回結果。
type Result struct {
	// NewCount は新着記事数の合計。SkipAlertのフィードは含まない。
	NewCount int
	// FeedIDs は新着記事があったフィードのID。SkipAlertのフィードは含まない。
	FeedIDs []string
}

// Service はフィードを順に取得して解析する。
// パーサーの状態を共有するため、巡回は同時に1つだけ実行する。
// 別プロセスとの同時巡回はFeedLockerで防ぐ。
type Service struct {
	feeds     FeedStore
	connector Connector
	handler   *feedparser.Handler
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	locker    FeedLocker

	mu sync.Mutex
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	feeds FeedStore,
	connector Connector,
	handler *feedparser.Handler,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		feeds:     feeds,
		connector: connector,
		handler:   handler,
		metrics:   m,
		logger:    logger,
	}
}

// WithFeedLocker はフィード単位のロックを設定する。nilの場合はプロセス内の排他のみ行う。
func (s *Service) WithFeedLocker(l FeedLocker) *Service {
	s.locker = l
	return s
}

// RefreshAll は全フィードを巡回する。個々のフィードの失敗はフィードのエラーとして記録し、巡回は続ける。
func (s *Service) RefreshAll(ctx context.Context) (Result, error) {
	feeds, err := s.feeds.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("フィード一覧の取得に失敗: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result Result
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.refreshInto(ctx, feed, &result)
	}
	return result, nil
}

// RefreshFeed は指定したフィードだけを巡回する。
func (s *Service) RefreshFeed(ctx context.Context, feedID string) (Result, error) {
	feed, err := s.feeds.FindByID(ctx, feedID)
	if err != nil {
		return Result{}, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	if feed == nil {
		return Result{}, model.ErrFeedNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result Result
	s.refreshInto(ctx, feed, &result)
	return result, nil
}

func (s *Service) refreshInto(ctx context.Context, feed *model.Feed, result *Result) {
	start := time.Now()
	newCount, err := s.lockedRefresh(ctx, feed)
	duration := time.Since(start)
	s.metrics.RecordRefreshLatency(duration)

	if err != nil {
		s.recordFailure(ctx, feed, err)
	} else {
		s.metrics.RecordRefreshSuccess(feed.ID)
		s.logger.Info("フィードの更新が完了しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
			slog.Int("new_entries", newCount),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	s.metrics.RecordNewEntries(newCount)
	if feed.SkipAlert || newCount == 0 {
		return
	}
	result.NewCount += newCount
	result.FeedIDs = append(result.FeedIDs, feed.ID)
}

// stageError は失敗した処理段階を保持するエラー。
type stageError struct {
	reason string
	err    error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failed(reason string, err error) error {
	return &stageError{reason: reason, err: err}
}

// lockedRefresh はフィードのロックを取得してから巡回する。
// 別プロセスが同じフィードを巡回中の場合は完了を待つ。
func (s *Service) lockedRefresh(ctx context.Context, feed *model.Feed) (int, error) {
	if s.locker == nil {
		return s.refresh(ctx, feed)
	}
	unlock, err := s.locker.LockFeed(ctx, feed.ID)
	if err != nil {
		return 0, failed(metrics.ReasonStore, fmt.Errorf("フィードのロック取得に失敗: %w", err))
	}
	defer unlock()
	return s.refresh(ctx, feed)
}

// refresh は1件のフィードを取得して解析し、新着記事数を返す。
// パーサーが完了または打ち切りの状態に達した後のエラーは無視する。
func (s *Service) refresh(ctx context.Context, feed *model.Feed) (int, error) {
	conn, err := s.connector.Connect(ctx, feed.URL)
	if err != nil {
		return 0, failed(metrics.ReasonConnect, err)
	}
	if conn == nil {
		s.logger.Debug("オフラインのためフィードの更新をスキップしました", slog.String("feed_id", feed.ID))
		return 0, nil
	}
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	mode := feed.FetchMode
	if mode == model.FetchModeUndetermined {
		conn, mode, err = s.probe(ctx, feed, conn)
		if err != nil || conn == nil {
			return 0, err
		}
	}

	if feed.Icon == nil {
		s.storeFavicon(ctx, feed, conn)
	}

	patterns, patternErrs := rewrite.ParsePatterns(feed.ImagePattern)
	for _, perr := range patternErrs {
		s.logger.Warn("画像パターンが不正なため無視します",
			slog.String("feed_id", feed.ID),
			slog.String("error", perr.Error()),
		)
	}
	state := feedparser.FeedState{
		ID:            feed.ID,
		URL:           feed.URL,
		Name:          feed.Name,
		ImagePatterns: patterns,
	}
	if feed.RealLastUpdate != nil {
		state.Watermark = *feed.RealLastUpdate
	}

	h := s.handler
	if err := h.Init(ctx, state); err != nil {
		return 0, failed(metrics.ReasonStore, err)
	}
	h.SetStream(conn)
	if err := s.parse(ctx, conn, mode); err != nil && !h.Done() && !h.Cancelled() {
		return h.NewCount(), err
	}
	return h.NewCount(), nil
}

// probe は取得方式が未判定のフィードについて、HTMLページであればフィードへのリンクを探し、
// 文字コードの判定結果から取得方式を決めて保存する。
// 見つかったフィードURLはフィードのURLとして保存し、接続し直した接続を返す。
func (s *Service) probe(ctx context.Context, feed *model.Feed, conn *httpfetch.Connection) (*httpfetch.Connection, model.FetchMode, error) {
	if conn.IsHTMLDocument() {
		head, _ := conn.Peek(httpfetch.LookAhead)
		if !LooksLikeFeed(head) {
			next, err := s.discover(ctx, feed, conn)
			if err != nil {
				return nil, model.FetchModeUndetermined, err
			}
			if next == nil {
				return nil, model.FetchModeUndetermined, nil
			}
			conn = next
		}
	}

	mode := model.FetchModeReencode
	if conn.IsXMLEncodingSupported() {
		mode = model.FetchModeDirect
	}
	if err := s.feeds.UpdateMetadata(ctx, feed.ID, model.FeedUpdate{FetchMode: &mode}); err != nil {
		conn.Close()
		return nil, model.FetchModeUndetermined, failed(metrics.ReasonStore, err)
	}
	s.logger.Info("フィードの取得方式を判定しました",
		slog.String("feed_id", feed.ID),
		slog.String("fetch_mode", mode.String()),
		slog.String("charset", conn.EncodingCharset(false)),
	)
	return conn, mode, nil
}

// discover はHTMLのheadからフィードへのリンクを探す。
// 見つからなければ本文を巻き戻して同じ接続をフィードとして扱う。
// 呼び出し元の接続はこの関数が閉じるか返すかのどちらかになる。
func (s *Service) discover(ctx context.Context, feed *model.Feed, conn *httpfetch.Connection) (*httpfetch.Connection, error) {
	r, err := conn.AsReader("")
	if err != nil {
		conn.Close()
		return nil, failed(metrics.ReasonConnect, err)
	}
	best := SelectBestFeed(ParseFeedLinks(r, conn.URL()), conn.URL())
	if best == nil {
		s.logger.Warn("HTMLページにフィードへのリンクが見つかりません",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
		)
		if err := conn.Reset(ctx); err != nil {
			return nil, failed(metrics.ReasonConnect, err)
		}
		return conn, nil
	}

	conn.Close()
	discovered := best.URL
	if err := s.feeds.UpdateMetadata(ctx, feed.ID, model.FeedUpdate{URL: &discovered}); err != nil {
		return nil, failed(metrics.ReasonStore, err)
	}
	s.logger.Info("HTMLページからフィードURLを検出しました",
		slog.String("feed_id", feed.ID),
		slog.String("page_url", feed.URL),
		slog.String("feed_url", discovered),
	)
	feed.URL = discovered

	next, err := s.connector.Connect(ctx, discovered)
	if err != nil {
		return nil, failed(metrics.ReasonConnect, err)
	}
	return next, nil
}

// storeFavicon はfaviconを取得して保存する。失敗しても巡回は続ける。
func (s *Service) storeFavicon(ctx context.Context, feed *model.Feed, conn *httpfetch.Connection) {
	icon, err := fetchFavicon(ctx, conn)
	if err != nil {
		s.logger.Debug("faviconを取得できませんでした",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}
	if icon == nil {
		return
	}
	if err := s.feeds.UpdateMetadata(ctx, feed.ID, model.FeedUpdate{Icon: icon, SetIcon: true}); err != nil {
		s.logger.Warn("faviconの保存に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	feed.Icon = icon
}

// parse は取得方式に応じて本文をUTF-8に変換し、パーサーに渡す。
// directはXML用の文字コードでストリームのまま変換し、reencodeは転送文字コードで本文全体を文字列にしてから解析する。
func (s *Service) parse(ctx context.Context, conn *httpfetch.Connection, mode model.FetchMode) error {
	var r io.Reader
	switch mode {
	case model.FetchModeReencode:
		text, err := conn.AsString(false)
		if err != nil {
			return failed(metrics.ReasonConnect, err)
		}
		r = strings.NewReader(text)
	default:
		decoded, err := conn.AsReader(conn.EncodingCharset(true))
		if err != nil {
			return failed(metrics.ReasonConnect, err)
		}
		r = decoded
	}

	if err := feedparser.Drive(ctx, r, s.handler); err != nil {
		return failed(metrics.ReasonParse, err)
	}
	return nil
}

// recordFailure はフィードにエラー文字列を記録し、取得方式を未判定に戻す。
// コンテキストが終了している場合はフィードの状態を変えない。
func (s *Service) recordFailure(ctx context.Context, feed *model.Feed, err error) {
	reason := metrics.ReasonConnect
	var se *stageError
	if errors.As(err, &se) {
		reason = se.reason
	}
	if reason == metrics.ReasonParse {
		s.metrics.RecordParseFailure(feed.ID)
	}
	s.metrics.RecordRefreshFailure(feed.ID, reason)

	s.logger.Error("フィードの更新に失敗しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	if ctx.Err() != nil {
		return
	}

	message := err.Error()
	undetermined := model.FetchModeUndetermined
	update := model.FeedUpdate{Error: &message, FetchMode: &undetermined}
	if updateErr := s.feeds.UpdateMetadata(ctx, feed.ID, update); updateErr != nil {
		s.logger.Error("フィード状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", updateErr.Error()),
		)
	}
}
