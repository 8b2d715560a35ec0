// Package cleanup は保持期間を過ぎた記事の自動削除ジョブを提供する。
// お気に入り以外の古い記事を全フィードから削除し、キャッシュ済みの画像も取り除く。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groboclown/GroboRSS/internal/metrics"
)

// EntryDeleter は古い記事の削除を抽象化するインターフェース。
// repository.PostgresEntryRepoが満たす。
type EntryDeleter interface {
	DeleteAllOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ImageRemover は記事に紐づくキャッシュ画像の削除を抽象化するインターフェース。
// imagecache.Cacheが満たす。
type ImageRemover interface {
	RemoveEntries(entryIDs []string) error
}

// CleanupJob は保持期間を超過した記事の自動削除ジョブ。
// 削除対象がない場合もエラーにならない。
type CleanupJob struct {
	entries EntryDeleter
	images  ImageRemover
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	RetentionDays int // 記事の保持日数。0以下なら削除しない
}

// NewCleanupJob は新しいCleanupJobを生成する。imagesはnilでもよい。
func NewCleanupJob(entries EntryDeleter, images ImageRemover, retentionDays int, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		entries:       entries,
		images:        images,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した記事を削除する。
// 画像の削除に失敗しても記事の削除結果は変わらないため、警告ログのみ出力する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		j.logger.Debug("保持期間が無効のため記事クリーンアップをスキップしました")
		return nil
	}
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	ids, err := j.entries.DeleteAllOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("記事クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("記事クリーンアップの実行に失敗: %w", err)
	}

	if j.images != nil && len(ids) > 0 {
		if err := j.images.RemoveEntries(ids); err != nil {
			j.logger.Warn("キャッシュ画像の削除に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("entry_count", len(ids)),
			)
		}
	}
	j.metrics.RecordEntriesExpired(len(ids))

	duration := time.Since(start)
	j.logger.Info("記事クリーンアップジョブが完了しました",
		slog.Int("deleted_count", len(ids)),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("記事クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
