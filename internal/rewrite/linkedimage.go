package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/groboclown/GroboRSS/internal/htmltoken"
	"github.com/groboclown/GroboRSS/internal/httpfetch"
)

// Connector はURLへの接続を生成する。httpfetch.Factoryが実装する。
type Connector interface {
	Connect(ctx context.Context, rawURL string) (*httpfetch.Connection, error)
}

// ImagePattern は記事リンク先の画像を選ぶための正規表現。
// src属性全体に一致した場合のみ該当とみなす。
type ImagePattern struct {
	Source string
	re     *regexp.Regexp
}

// Matches はsrcが正規表現全体に一致するかどうかを返す。
func (p ImagePattern) Matches(src string) bool {
	return p.re != nil && p.re.MatchString(src)
}

// ParsePatterns はカンマ区切りの正規表現リストをコンパイルする。
// コンパイルできない正規表現は読み飛ばし、エラーとして返す。
func ParsePatterns(csv string) ([]ImagePattern, []error) {
	var patterns []ImagePattern
	var errs []error
	for _, part := range strings.Split(csv, ",") {
		src := strings.TrimSpace(part)
		if src == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + src + ")$")
		if err != nil {
			errs = append(errs, fmt.Errorf("画像パターン %q のコンパイルに失敗: %w", src, err))
			continue
		}
		patterns = append(patterns, ImagePattern{Source: src, re: re})
	}
	return patterns, errs
}

// LinkedImage は記事リンク先のページから見つけた画像。
type LinkedImage struct {
	URL string
	Alt string
}

// LinkedImageResolver は記事リンク先のページから条件に合う画像を探す。
type LinkedImageResolver struct {
	connector Connector
	logger    *slog.Logger
}

// NewLinkedImageResolver はLinkedImageResolverの新しいインスタンスを生成する。
func NewLinkedImageResolver(connector Connector, logger *slog.Logger) *LinkedImageResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkedImageResolver{connector: connector, logger: logger}
}

// Resolve はlinkのページを取得し、いずれかのパターンに一致する最初のimgを返す。
// 取得や解析に失敗した場合は見つからなかったものとして扱う。
func (r *LinkedImageResolver) Resolve(ctx context.Context, link string, patterns []ImagePattern) (LinkedImage, bool) {
	if link == "" || len(patterns) == 0 || r.connector == nil {
		return LinkedImage{}, false
	}
	conn, err := r.connector.Connect(ctx, link)
	if err != nil {
		r.logger.Warn("記事リンク先の取得に失敗しました",
			slog.String("link", link),
			slog.String("error", err.Error()),
		)
		return LinkedImage{}, false
	}
	if conn == nil {
		return LinkedImage{}, false
	}
	defer conn.Close()

	page, err := conn.AsString(false)
	if err != nil {
		r.logger.Warn("記事リンク先の読み取りに失敗しました",
			slog.String("link", link),
			slog.String("error", err.Error()),
		)
		return LinkedImage{}, false
	}

	for _, tok := range htmltoken.Tokenize(page) {
		if !tok.IsStart() || tok.Name() != "img" {
			continue
		}
		src, ok := tok.AttributeValue("src")
		if !ok {
			continue
		}
		for _, p := range patterns {
			if !p.Matches(src) {
				continue
			}
			alt, ok := tok.AttributeValue("alt")
			if !ok {
				alt, _ = tok.AttributeValue("title")
			}
			return LinkedImage{
				URL: resolveImageURL(conn.URL(), src),
				Alt: strings.TrimSpace(alt),
			}, true
		}
	}
	return LinkedImage{}, false
}

// resolveImageURL はページURLを基準にsrcを絶対URLにする。
// ルートからのパス、ディレクトリからの相対パス、パスのないファイル名をそれぞれ解決する。
func resolveImageURL(page *url.URL, src string) string {
	resolved := src
	origin := page.Scheme + "://" + page.Host
	switch {
	case strings.HasPrefix(src, "//"):
		resolved = page.Scheme + ":" + src
	case strings.HasPrefix(src, "/"):
		resolved = origin + src
	case !strings.Contains(src, "://"):
		path := page.Path
		if strings.HasSuffix(path, "/") {
			resolved = origin + path + src
		} else if i := strings.LastIndexByte(path, '/'); i >= 0 {
			resolved = origin + path[:i+1] + src
		} else {
			resolved = origin + "/" + src
		}
	}
	return strings.ReplaceAll(resolved, " ", "%20")
}
