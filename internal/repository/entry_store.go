package repository

import (
	"context"
	"time"

	"github.com/groboclown/GroboRSS/internal/feedparser"
	"github.com/groboclown/GroboRSS/internal/model"
)

// EntryStore はフィードと記事のリポジトリをまとめ、パーサーから使うストア契約を提供する。
type EntryStore struct {
	feeds   FeedRepository
	entries EntryRepository
}

// NewEntryStore はEntryStoreを生成する。
func NewEntryStore(feeds FeedRepository, entries EntryRepository) *EntryStore {
	return &EntryStore{feeds: feeds, entries: entries}
}

// UpdateFeedMetadata はフィードのメタデータを部分更新する。
func (s *EntryStore) UpdateFeedMetadata(ctx context.Context, feedID string, update model.FeedUpdate) error {
	return s.feeds.UpdateMetadata(ctx, feedID, update)
}

// DeleteEntriesOlderThan はcutoffより古い記事を削除し、削除した記事IDを返す。
func (s *EntryStore) DeleteEntriesOlderThan(ctx context.Context, feedID string, cutoff time.Time, excludeFavorites bool) ([]string, error) {
	return s.entries.DeleteOlderThan(ctx, feedID, cutoff, excludeFavorites)
}

// RefreshStaleEntry は保存済みの日付が古い既存記事を上書きし、未読に戻す。
func (s *EntryStore) RefreshStaleEntry(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	return s.entries.RefreshStale(ctx, feedID, key, entry)
}

// UpdateEntry は既存記事を既読状態を保ったまま上書きする。
func (s *EntryStore) UpdateEntry(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	return s.entries.UpdateByKey(ctx, feedID, key, entry)
}

// InsertEntry は記事を追加する。
func (s *EntryStore) InsertEntry(ctx context.Context, feedID string, entry *model.EntryCandidate, date time.Time) (string, error) {
	return s.entries.Insert(ctx, feedID, entry, date)
}

// compile-time interface check
var _ feedparser.Store = (*EntryStore)(nil)
