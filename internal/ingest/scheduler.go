package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Refresher は1回分の巡回を実行する。Serviceが実装する。
type Refresher interface {
	RefreshAll(ctx context.Context) (Result, error)
}

// Scheduler は一定間隔で巡回を実行する。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(refresher Refresher, logger *slog.Logger) *Scheduler {
	return &Scheduler{refresher: refresher, logger: logger}
}

// Start はinterval間隔のティッカーで巡回を実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("巡回スケジューラを開始しました", slog.Duration("interval", interval))

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("巡回スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は1回分の巡回を実行して結果をログに出力する。
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	start := time.Now()
	result, err := s.refresher.RefreshAll(ctx)
	if err != nil {
		s.logger.Error("巡回の実行に失敗しました", slog.String("error", err.Error()))
		return result
	}
	s.logger.Info("巡回が完了しました",
		slog.Int("new_entries", result.NewCount),
		slog.Int("updated_feeds", len(result.FeedIDs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result
}
