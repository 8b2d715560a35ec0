// Package feed はフィード登録・管理のドメインロジックを提供する。
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/groboclown/GroboRSS/internal/ingest"
	"github.com/groboclown/GroboRSS/internal/model"
)

// FeedStore はフィード管理に必要な永続化の操作。repository.PostgresFeedRepoが満たす。
type FeedStore interface {
	FindByID(ctx context.Context, id string) (*model.Feed, error)
	FindByURL(ctx context.Context, feedURL string) (*model.Feed, error)
	List(ctx context.Context) ([]*model.Feed, error)
	Create(ctx context.Context, feed *model.Feed) error
	Delete(ctx context.Context, id string) error
}

// EntryStore は記事の参照操作。repository.PostgresEntryRepoが満たす。
type EntryStore interface {
	FindByID(ctx context.Context, id string) (*model.Entry, error)
	ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.Entry, error)
}

// URLValidator は登録するURLを検証する。security.SSRFGuardが満たす。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Refresher は1フィードを取得する。ingest.Serviceが満たす。
type Refresher interface {
	RefreshFeed(ctx context.Context, feedID string) (ingest.Result, error)
}

// ImageRemover は記事のキャッシュ画像を削除する。imagecache.Cacheが満たす。
type ImageRemover interface {
	RemoveEntries(entryIDs []string) error
}

// FeedService はフィード登録・管理のサービス層。
// URL検証 → 重複チェック → 保存 → 初回取得のフローを統括する。
type FeedService struct {
	feeds     FeedStore
	entries   EntryStore
	validator URLValidator
	refresher Refresher
	images    ImageRemover
	logger    *slog.Logger
}

// NewFeedService はFeedServiceの新しいインスタンスを生成する。imagesはnilでもよい。
func NewFeedService(
	feeds FeedStore,
	entries EntryStore,
	validator URLValidator,
	refresher Refresher,
	images ImageRemover,
	logger *slog.Logger,
) *FeedService {
	return &FeedService{
		feeds:     feeds,
		entries:   entries,
		validator: validator,
		refresher: refresher,
		images:    images,
		logger:    logger,
	}
}

// RegisterFeed はURLのフィードを登録し、初回の取得を行う。
// URLがWebページの場合は初回取得時の自動検出でフィードURLに置き換わる。
// 初回取得の失敗はフィードのエラーとして記録され、登録自体は成功する。
func (s *FeedService) RegisterFeed(ctx context.Context, inputURL string) (*model.Feed, error) {
	feedURL := strings.TrimSpace(inputURL)
	if err := s.validator.ValidateURL(feedURL); err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	existing, err := s.feeds.FindByURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewFeedExistsError(feedURL)
	}

	// 初期の名前はURL（取得時にフィードのタイトルで更新される）
	feed := &model.Feed{URL: feedURL, Name: feedURL}
	if err := s.feeds.Create(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}
	s.logger.Info("フィードを登録しました",
		slog.String("feed_id", feed.ID),
		slog.String("url", feedURL),
	)

	if _, err := s.refresher.RefreshFeed(ctx, feed.ID); err != nil {
		s.logger.Warn("初回取得に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}

	refreshed, err := s.feeds.FindByID(ctx, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if refreshed == nil {
		return feed, nil
	}
	return refreshed, nil
}

// ListFeeds は全フィードを返す。
func (s *FeedService) ListFeeds(ctx context.Context) ([]*model.Feed, error) {
	return s.feeds.List(ctx)
}

// GetFeed はフィード情報を取得する。見つからない場合はnilを返す。
func (s *FeedService) GetFeed(ctx context.Context, feedID string) (*model.Feed, error) {
	return s.feeds.FindByID(ctx, feedID)
}

// RefreshFeed はフィードを即時に取得し、新着件数を返す。
func (s *FeedService) RefreshFeed(ctx context.Context, feedID string) (int, error) {
	result, err := s.refresher.RefreshFeed(ctx, feedID)
	if errors.Is(err, model.ErrFeedNotFound) {
		return 0, model.NewFeedNotFoundError(feedID)
	}
	if err != nil {
		return 0, err
	}
	return result.NewCount, nil
}

// DeleteFeed はフィードと記事を削除し、記事のキャッシュ画像も取り除く。
func (s *FeedService) DeleteFeed(ctx context.Context, feedID string) error {
	feed, err := s.feeds.FindByID(ctx, feedID)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return model.NewFeedNotFoundError(feedID)
	}

	var entryIDs []string
	if s.images != nil {
		entries, err := s.entries.ListByFeed(ctx, feedID, math.MaxInt32)
		if err != nil {
			return fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
		}
		for _, e := range entries {
			entryIDs = append(entryIDs, e.ID)
		}
	}

	if err := s.feeds.Delete(ctx, feedID); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}

	if len(entryIDs) > 0 {
		if err := s.images.RemoveEntries(entryIDs); err != nil {
			s.logger.Warn("キャッシュ画像の削除に失敗しました",
				slog.String("feed_id", feedID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("フィードを削除しました",
		slog.String("feed_id", feedID),
		slog.Int("entry_count", len(entryIDs)),
	)
	return nil
}

// ListEntries はフィードの記事を新しい順に最大limit件返す。
func (s *FeedService) ListEntries(ctx context.Context, feedID string, limit int) ([]*model.Entry, error) {
	feed, err := s.feeds.FindByID(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, model.NewFeedNotFoundError(feedID)
	}
	return s.entries.ListByFeed(ctx, feedID, limit)
}

// GetEntry は記事を取得する。見つからない場合はnilを返す。
func (s *FeedService) GetEntry(ctx context.Context, entryID string) (*model.Entry, error) {
	return s.entries.FindByID(ctx, entryID)
}
