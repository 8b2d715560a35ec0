package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/groboclown/GroboRSS/internal/model"
)

// PostgresTableRepo はJSONバックアップ用にテーブル単位で読み書きするリポジトリ。
type PostgresTableRepo struct {
	db *sql.DB
}

// NewPostgresTableRepo はPostgresTableRepoを生成する。
func NewPostgresTableRepo(db *sql.DB) *PostgresTableRepo {
	return &PostgresTableRepo{db: db}
}

// ReadAll はテーブルの全行を定義された列で読み出す。
func (r *PostgresTableRepo) ReadAll(ctx context.Context, table model.Table) ([]model.Row, error) {
	quoted := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		quoted[i] = pq.QuoteIdentifier(c.Name)
	}
	query := "SELECT " + strings.Join(quoted, ", ") + " FROM " + pq.QuoteIdentifier(table.Name)
	if pk := table.PrimaryKey(); pk != "" {
		query += " ORDER BY " + pq.QuoteIdentifier(pk)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s テーブルの読み出しに失敗しました: %w", table.Name, err)
	}
	defer rows.Close()

	var result []model.Row
	for rows.Next() {
		dest := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			dest[i] = scanTarget(c.Type)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%s テーブルの行の読み取りに失敗しました: %w", table.Name, err)
		}
		row := make(model.Row, len(table.Columns))
		for i, c := range table.Columns {
			row[c.Name] = scannedValue(dest[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s テーブルの走査に失敗しました: %w", table.Name, err)
	}
	return result, nil
}

// ReplaceAll は1つのトランザクションで全テーブルの内容を置き換える。
// 外部キーの参照元から削除するため、削除はtablesの逆順で行う。
// 主キー列の値がない行には新しいIDを採番する。
func (r *PostgresTableRepo) ReplaceAll(ctx context.Context, tables []model.Table, rows map[string][]model.Row) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(tables[i].Name)); err != nil {
			return fmt.Errorf("%s テーブルの削除に失敗しました: %w", tables[i].Name, err)
		}
	}

	for _, table := range tables {
		if err := copyRows(ctx, tx, table, rows[table.Name]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// copyRows はCOPYで行を一括挿入する。
func copyRows(ctx context.Context, tx *sql.Tx, table model.Table, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table.Name, table.ColumnNames()...))
	if err != nil {
		return fmt.Errorf("%s テーブルの一括挿入の準備に失敗しました: %w", table.Name, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		values := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			values[i] = copyValue(c, row[c.Name])
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("%s テーブルへの挿入に失敗しました: %w", table.Name, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("%s テーブルの一括挿入に失敗しました: %w", table.Name, err)
	}
	return nil
}

// scanTarget は列の型に応じたScan先を返す。
func scanTarget(t model.ColumnType) any {
	switch t {
	case model.ColumnInt, model.ColumnInt7:
		return new(sql.NullInt64)
	case model.ColumnBoolean:
		return new(sql.NullBool)
	case model.ColumnDatetime:
		return new(sql.NullTime)
	case model.ColumnBlob:
		return new([]byte)
	default:
		return new(sql.NullString)
	}
}

// scannedValue はScan結果をRowの値に変換する。NULLはnil。
func scannedValue(v any) any {
	switch x := v.(type) {
	case *sql.NullString:
		if !x.Valid {
			return nil
		}
		return x.String
	case *sql.NullInt64:
		if !x.Valid {
			return nil
		}
		return x.Int64
	case *sql.NullBool:
		if !x.Valid {
			return nil
		}
		return x.Bool
	case *sql.NullTime:
		return nullTimePtr(*x)
	case *[]byte:
		if *x == nil {
			return nil
		}
		return *x
	default:
		return nil
	}
}

// copyValue はRowの値をCOPYに渡す値に変換する。
func copyValue(c model.Column, v any) any {
	if c.Type == model.ColumnPrimaryKey {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		return uuid.NewString()
	}
	switch x := v.(type) {
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case []byte:
		if x == nil {
			return nil
		}
		return x
	default:
		return v
	}
}

// compile-time interface check
var _ TableRepository = (*PostgresTableRepo)(nil)
