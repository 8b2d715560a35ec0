// Package seed はYAMLファイルで定義したフィードを一括で登録する。
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/groboclown/GroboRSS/internal/model"
)

// FeedDefinition はYAMLファイル1つ分のフィード定義。
//
//	feed:
//	  url: https://example.com/rss
//	  name: Example
//	  image_pattern: '<img src="([^"]+)"'
//	  skip_alert: false
type FeedDefinition struct {
	Feed struct {
		URL          string `yaml:"url"`
		Name         string `yaml:"name"`
		Homepage     string `yaml:"homepage"`
		ImagePattern string `yaml:"image_pattern"`
		SkipAlert    bool   `yaml:"skip_alert"`
	} `yaml:"feed"`
}

// FeedStore は登録に必要なフィードの読み書き。repository.FeedRepositoryが満たす。
type FeedStore interface {
	FindByURL(ctx context.Context, feedURL string) (*model.Feed, error)
	Create(ctx context.Context, feed *model.Feed) error
}

// Loader はディレクトリ内の *.yaml と *.yml を読み込む。
type Loader struct {
	feedsDir string
}

// NewLoader はLoaderを生成する。
func NewLoader(feedsDir string) *Loader {
	return &Loader{feedsDir: feedsDir}
}

// LoadAll はフィード定義をファイル名順に読み込む。ディレクトリがない場合は空を返す。
func (l *Loader) LoadAll() ([]FeedDefinition, error) {
	if _, err := os.Stat(l.feedsDir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(l.feedsDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("フィード定義ファイルの検索に失敗: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	defs := make([]FeedDefinition, 0, len(files))
	for _, file := range files {
		def, err := loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%s の読み込みに失敗: %w", file, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func loadFile(path string) (FeedDefinition, error) {
	var def FeedDefinition
	data, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("YAMLの解析に失敗: %w", err)
	}
	def.Feed.URL = strings.TrimSpace(def.Feed.URL)
	if def.Feed.URL == "" {
		return def, fmt.Errorf("feed.url がありません")
	}
	return def, nil
}

// Apply は未登録のフィードだけを作成し、作成した件数を返す。
// 名前が空の場合はURLを名前にする。
func Apply(ctx context.Context, store FeedStore, defs []FeedDefinition, logger *slog.Logger) (int, error) {
	added := 0
	for _, def := range defs {
		existing, err := store.FindByURL(ctx, def.Feed.URL)
		if err != nil {
			return added, err
		}
		if existing != nil {
			logger.Debug("登録済みのフィードをスキップしました", slog.String("url", def.Feed.URL))
			continue
		}

		name := strings.TrimSpace(def.Feed.Name)
		if name == "" {
			name = def.Feed.URL
		}
		feed := &model.Feed{
			URL:          def.Feed.URL,
			Name:         name,
			Homepage:     def.Feed.Homepage,
			ImagePattern: def.Feed.ImagePattern,
			SkipAlert:    def.Feed.SkipAlert,
		}
		if err := store.Create(ctx, feed); err != nil {
			return added, fmt.Errorf("フィード %s の作成に失敗: %w", def.Feed.URL, err)
		}
		logger.Info("フィードを登録しました", slog.String("feed_id", feed.ID), slog.String("url", feed.URL))
		added++
	}
	return added, nil
}
