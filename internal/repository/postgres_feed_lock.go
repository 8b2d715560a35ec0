package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// feedLockPrefix はアドバイザリロックのキーを他の用途と区別する接頭辞。
const feedLockPrefix = "groborss:feed:"

// PostgresFeedLock はPostgreSQLのアドバイザリロックでフィード単位の排他を取る。
// apiとworkerのように別プロセスで同じフィードを巡回する場合に使う。
type PostgresFeedLock struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresFeedLock はPostgresFeedLockを生成する。
func NewPostgresFeedLock(db *sql.DB, logger *slog.Logger) *PostgresFeedLock {
	return &PostgresFeedLock{db: db, logger: logger}
}

func feedLockKey(feedID string) string {
	return feedLockPrefix + feedID
}

// LockFeed はフィードのロックを取得する。他のセッションが保持している場合は解放まで待つ。
// セッション単位のロックのため、解放まで専用の接続を保持する。
func (l *PostgresFeedLock) LockFeed(ctx context.Context, feedID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("接続の取得に失敗: %w", err)
	}
	key := feedLockKey(feedID)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("アドバイザリロックの取得に失敗: %w", err)
	}

	return func() {
		// 巡回側のctxがキャンセル済みでも解放できるよう独立したctxを使う
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			l.logger.Warn("アドバイザリロックの解放に失敗しました",
				slog.String("feed_id", feedID),
				slog.String("error", err.Error()),
			)
		}
		conn.Close()
	}, nil
}
