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

const entryColumns = `id, feed_id, title, link, description, author, enclosure, guid,
	date, read_date, favorite, created_at`

// PostgresEntryRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

func scanEntry(s rowScanner) (*model.Entry, error) {
	entry := &model.Entry{}
	var readDate sql.NullTime
	if err := s.Scan(
		&entry.ID, &entry.FeedID, &entry.Title, &entry.Link, &entry.Description,
		&entry.Author, &entry.Enclosure, &entry.GUID,
		&entry.Date, &readDate, &entry.Favorite, &entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	entry.ReadDate = nullTimePtr(readDate)
	return entry, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresEntryRepo) FindByID(ctx context.Context, id string) (*model.Entry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return entry, nil
}

// ListByFeed はフィードの記事を日付の新しい順に最大limit件返す。
func (r *PostgresEntryRepo) ListByFeed(ctx context.Context, feedID string, limit int) ([]*model.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE feed_id = $1 ORDER BY date DESC LIMIT $2`,
		feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("記事の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan はフィードのcutoffより古い記事を削除し、削除した記事IDを返す。
func (r *PostgresEntryRepo) DeleteOlderThan(ctx context.Context, feedID string, cutoff time.Time, excludeFavorites bool) ([]string, error) {
	query := `DELETE FROM entries WHERE feed_id = $1 AND date < $2`
	if excludeFavorites {
		query += ` AND favorite = FALSE`
	}
	return r.deleteReturning(ctx, query+` RETURNING id`, feedID, cutoff)
}

// DeleteAllOlderThan は全フィードのcutoffより古いお気に入り以外の記事を削除する。
func (r *PostgresEntryRepo) DeleteAllOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.deleteReturning(ctx,
		`DELETE FROM entries WHERE date < $1 AND favorite = FALSE RETURNING id`, cutoff)
}

func (r *PostgresEntryRepo) deleteReturning(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("削除した記事IDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除した記事IDの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// RefreshStale はキーが一致し保存済みの日付が候補より古い記事を上書きし、未読に戻す。
// 候補に日付がない場合は何も更新しない。
func (r *PostgresEntryRepo) RefreshStale(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	if entry.Date == nil {
		return 0, nil
	}
	query, args := buildEntryUpdate(feedID, key, entry, true)
	return r.execUpdate(ctx, query, args)
}

// UpdateByKey はキーが一致する記事を既読状態を保ったまま上書きする。
func (r *PostgresEntryRepo) UpdateByKey(ctx context.Context, feedID string, key model.DedupKey, entry *model.EntryCandidate) (int64, error) {
	query, args := buildEntryUpdate(feedID, key, entry, false)
	return r.execUpdate(ctx, query, args)
}

func (r *PostgresEntryRepo) execUpdate(ctx context.Context, query string, args []any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Insert は記事を追加し、採番した記事IDを返す。
func (r *PostgresEntryRepo) Insert(ctx context.Context, feedID string, entry *model.EntryCandidate, date time.Time) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (id, feed_id, title, link, description, author, enclosure, guid, date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		id, feedID, entry.Title, entry.Link, entry.Description, entry.Author,
		entry.Enclosure.String(), entry.GUID, date,
	)
	if err != nil {
		return "", fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return id, nil
}

// buildEntryUpdate は重複判定キーで既存記事を上書きするUPDATE文を組み立てる。
// 添付ファイルとGUIDは空でない場合のみ更新値と照合条件に含める。
// staleがtrueの場合は保存済みの日付が候補より古い記事に限定し、未読に戻す。
func buildEntryUpdate(feedID string, key model.DedupKey, entry *model.EntryCandidate, stale bool) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{
		"title = " + arg(entry.Title),
		"description = " + arg(entry.Description),
	}
	if entry.Date != nil {
		sets = append(sets, "date = "+arg(*entry.Date))
	}
	if entry.Author != "" {
		sets = append(sets, "author = "+arg(entry.Author))
	}
	if enclosure := entry.Enclosure.String(); enclosure != "" {
		sets = append(sets, "enclosure = "+arg(enclosure))
	}
	if entry.GUID != "" {
		sets = append(sets, "guid = "+arg(entry.GUID))
	}
	if stale {
		sets = append(sets, "read_date = NULL")
	}

	conds := []string{
		"feed_id = " + arg(feedID),
		"link = " + arg(key.Link),
	}
	if key.Enclosure != "" {
		conds = append(conds, "enclosure = "+arg(key.Enclosure))
	}
	if key.GUID != "" {
		conds = append(conds, "guid = "+arg(key.GUID))
	}
	if stale {
		conds = append(conds, "date < "+arg(*entry.Date))
	}

	return "UPDATE entries SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(conds, " AND "), args
}

// compile-time interface check
var _ EntryRepository = (*PostgresEntryRepo)(nil)
