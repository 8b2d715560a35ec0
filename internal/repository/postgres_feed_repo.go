package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groboclown/GroboRSS/internal/model"
)

const feedColumns = `id, url, name, homepage, icon, last_update, real_last_update,
	fetch_mode, error, image_pattern, skip_alert, created_at, updated_at`

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var lastUpdate, realLastUpdate sql.NullTime
	var fetchMode int16

	if err := s.Scan(
		&feed.ID, &feed.URL, &feed.Name, &feed.Homepage, &feed.Icon,
		&lastUpdate, &realLastUpdate,
		&fetchMode, &feed.Error, &feed.ImagePattern, &feed.SkipAlert,
		&feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.FetchMode = model.FetchMode(fetchMode)
	feed.LastUpdate = nullTimePtr(lastUpdate)
	feed.RealLastUpdate = nullTimePtr(realLastUpdate)
	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = $1`, feedURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// List は全フィードを名前順で返す。
func (r *PostgresFeedRepo) List(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY name ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// Create はフィードを作成する。IDが空の場合は採番する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	now := time.Now()
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = now
	}
	feed.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, url, name, homepage, icon, last_update, real_last_update,
		                    fetch_mode, error, image_pattern, skip_alert, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		feed.ID, feed.URL, feed.Name, feed.Homepage, feed.Icon,
		feed.LastUpdate, feed.RealLastUpdate,
		int16(feed.FetchMode), feed.Error, feed.ImagePattern, feed.SkipAlert,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata はFeedUpdateでnilでない項目だけを更新する。
func (r *PostgresFeedRepo) UpdateMetadata(ctx context.Context, id string, update model.FeedUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	query, args := buildFeedUpdate(id, update)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("フィード情報の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのフィードを削除する。
func (r *PostgresFeedRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	return nil
}

// buildFeedUpdate は部分更新のUPDATE文と引数を組み立てる。$1はフィードID。
func buildFeedUpdate(id string, u model.FeedUpdate) (string, []any) {
	args := []any{id}
	var sets []string
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.URL != nil {
		set("url", *u.URL)
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Homepage != nil {
		set("homepage", *u.Homepage)
	}
	if u.SetIcon {
		set("icon", u.Icon)
	}
	if u.LastUpdate != nil {
		set("last_update", *u.LastUpdate)
	}
	if u.RealLastUpdate != nil {
		set("real_last_update", *u.RealLastUpdate)
	}
	if u.FetchMode != nil {
		set("fetch_mode", int16(*u.FetchMode))
	}
	if u.Error != nil {
		set("error", *u.Error)
	}
	sets = append(sets, "updated_at = now()")

	return "UPDATE feeds SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
