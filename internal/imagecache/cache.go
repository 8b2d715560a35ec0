// Package imagecache は記事が参照する画像をローカルディレクトリに保存する。
// ファイル名は "記事ID__元のファイル名" で、表示時の書き換えが同じ規則で参照する。
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/groboclown/GroboRSS/internal/httpfetch"
	"github.com/groboclown/GroboRSS/internal/metrics"
	"github.com/groboclown/GroboRSS/internal/rewrite"
)

// Connector はURLへの接続を生成する。httpfetch.Factoryが実装する。
type Connector interface {
	Connect(ctx context.Context, rawURL string) (*httpfetch.Connection, error)
}

// Cache は画像キャッシュのディレクトリを管理する。
type Cache struct {
	dir       string
	connector Connector
	limiter   *rate.Limiter
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// New はCacheの新しいインスタンスを生成する。
// perSecondは1秒あたりのダウンロード数の上限で、0以下なら制限しない。
func New(dir string, connector Connector, perSecond float64, m metrics.MetricsCollector, logger *slog.Logger) *Cache {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:       dir,
		connector: connector,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   m,
		logger:    logger,
	}
}

// Dir はキャッシュディレクトリを返す。
func (c *Cache) Dir() string {
	return c.dir
}

// Path は記事IDと画像URLに対応するキャッシュファイルのパスを返す。
func (c *Cache) Path(entryID, imageURL string) string {
	return filepath.Join(c.dir, entryID+rewrite.ImageIDSeparator+rewrite.ImageFileName(imageURL))
}

// Store は画像をダウンロードしてキャッシュに保存する。
// オフライン設定の場合は何もしない。書き込みは一時ファイル経由で行い、途中で失敗したファイルは残さない。
func (c *Cache) Store(ctx context.Context, entryID, imageURL string) (err error) {
	defer func() {
		if err != nil {
			c.metrics.RecordImageFailed()
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("画像取得の待機に失敗: %w", err)
	}

	conn, err := c.connector.Connect(ctx, imageURL)
	if err != nil {
		return fmt.Errorf("画像への接続に失敗: %w", err)
	}
	if conn == nil {
		return nil
	}
	defer conn.Close()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("キャッシュディレクトリの作成に失敗: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, conn.AsInputStream()); err != nil {
		tmp.Close()
		return fmt.Errorf("画像の書き込みに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("画像の書き込みに失敗: %w", err)
	}
	path := c.Path(entryID, imageURL)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("画像ファイルの配置に失敗: %w", err)
	}

	c.metrics.RecordImageStored()
	c.logger.Debug("画像を保存しました",
		slog.String("entry_id", entryID),
		slog.String("image_url", imageURL),
		slog.String("path", path),
	)
	return nil
}

// RemoveEntries は記事IDに対応するキャッシュファイルをすべて削除する。
// 個別の削除エラーはまとめて返し、残りの削除は続ける。
func (c *Cache) RemoveEntries(entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	files, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("キャッシュディレクトリの読み取りに失敗: %w", err)
	}

	prefixes := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		prefixes[i] = id + rewrite.ImageIDSeparator
	}

	var errs []error
	for _, f := range files {
		if f.IsDir() || !hasAnyPrefix(f.Name(), prefixes) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, f.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
