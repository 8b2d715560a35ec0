// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, feedURL string) (*model.Feed, error)

	// List は全フィードを名前順で返す。
	List(ctx context.Context) ([]*model.Feed, error)

	// Create はフィードを作成する。IDが空の場合は採番する。
	Create(ctx context.Context, feed *model.Feed) error

	// UpdateMetadata はFeedUpdateでnilでない項目だけを更新する。
	UpdateMetadata(ctx context.Context, id string, update model.FeedUpdate) error

	// Delete は指定IDのフィードを削除する。記事はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// EntryRepository は記事データの永続化インターフェース。
// 既存記事の同一性は (link, enclosure, guid) の重複判定キーで判定する。
type EntryRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Entry, error)

	// ListByFeed はフィードの記事を日付の新しい順に最大limit件返す。
	ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.Entry, error)

	// DeleteOlderThan はフィードのcutoffより古い記事を削除し、削除した記事IDを返す。
	// excludeFavoritesがtrueならお気に入りの記事は削除しない。
	DeleteOlderThan(ctx context.Context, feedID string, cutoff time.Time, excludeFavorites bool) ([]string, error)

	// DeleteAllOlderThan は全フィードのcutoffより古いお気に入り以外の記事を削除し、削除した記事IDを返す。
	DeleteAllOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)

	// RefreshStale はキーが一致し保存済みの日付が候補より古い記事を上書きし、未読に戻す。更新件数を返す。
	RefreshStale(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error)

	// UpdateByKey はキーが一致する記事を既読状態を保ったまま上書きする。更新件数を返す。
	UpdateByKey(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error)

	// Insert は記事を追加し、採番した記事IDを返す。
	Insert(ctx context.Context, feedID string, entry *model.EntryCandidate, date time.Time) (string, error)
}

// TableRepository はJSONバックアップ用のテーブル単位の一括操作インターフェース。
type TableRepository interface {
	// ReadAll はテーブルの全行を定義された列で読み出す。
	ReadAll(ctx context.Context, table model.Table) ([]model.Row, error)

	// ReplaceAll は1つのトランザクションで全テーブルの内容を置き換える。
	// tablesの逆順で削除し、tablesの順に挿入する。
	ReplaceAll(ctx context.Context, tables []model.Table, rows map[string][]model.Row) error
}
