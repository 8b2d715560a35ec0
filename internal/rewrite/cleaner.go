package rewrite

import (
	"context"
	"html"
	"strings"

	"github.com/groboclown/GroboRSS/internal/htmltoken"
)

// Sanitizer は信頼できないHTMLを安全なHTMLに変換する。security.EntrySanitizerが実装する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// CleanerOptions は取り込み時の本文整形設定。
type CleanerOptions struct {
	// FetchImages がtrueの場合、本文中の画像をキャッシュ参照に書き換えてダウンロード対象にする。
	FetchImages bool
	// ImageURLPrefix はキャッシュ画像を参照するURLの接頭辞（例: file:///var/cache/groborss/images/）。
	ImageURLPrefix string
}

// Cleaned は整形後の本文とダウンロード対象の画像URL。
type Cleaned struct {
	Description string
	Images      []string
}

// Cleaner は取り込み時に記事本文を整形する。
type Cleaner struct {
	opts      CleanerOptions
	resolver  *LinkedImageResolver
	sanitizer Sanitizer
}

// NewCleaner はCleanerの新しいインスタンスを生成する。
// resolverとsanitizerはnilでもよい。
func NewCleaner(opts CleanerOptions, resolver *LinkedImageResolver, sanitizer Sanitizer) *Cleaner {
	return &Cleaner{opts: opts, resolver: resolver, sanitizer: sanitizer}
}

// Clean は記事本文を整形する。
// spanタグを除去し、画像取得が有効なら画像参照をキャッシュ用に書き換え、
// 画像パターンが指定されていれば記事リンク先の画像を末尾に追加する。
func (c *Cleaner) Clean(ctx context.Context, description, link string, patterns []ImagePattern) Cleaned {
	text := strings.TrimSpace(description)
	if c.sanitizer != nil && text != "" {
		text = strings.TrimSpace(c.sanitizer.Sanitize(text))
	}
	if text == "" {
		return Cleaned{}
	}

	var images []string
	tokens := htmltoken.Tokenize(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if tok.IsTag() && tok.Name() == "span" {
			continue
		}
		if c.opts.FetchImages && tok.IsStart() && tok.Name() == "img" {
			if src, ok := tok.AttributeValue("src"); ok && isRemoteURL(src) {
				src = strings.ReplaceAll(strings.TrimSpace(src), " ", "%20")
				images = append(images, src)
				tok.SetAttribute("src", c.cacheURL(src))
			}
		}
		kept = append(kept, tok)
	}
	text = htmltoken.Serialize(kept)

	if c.resolver != nil && link != "" && len(patterns) > 0 {
		if img, found := c.resolver.Resolve(ctx, link, patterns); found {
			src := img.URL
			if c.opts.FetchImages {
				images = append(images, img.URL)
				src = c.cacheURL(img.URL)
			}
			text += linkedImageHTML(src, img.Alt)
		} else {
			text += patternNotFoundHTML(patterns)
		}
	}
	return Cleaned{Description: text, Images: images}
}

// cacheURL は画像URLをキャッシュ参照に書き換える。
// 記事IDは保存時点で未確定のため、表示時に置き換えるプレースホルダーを埋め込む。
func (c *Cleaner) cacheURL(imageURL string) string {
	return c.opts.ImageURLPrefix + ImageIDPlaceholder + ImageFileName(imageURL)
}

// ImageFileName は画像URLの最後のパス要素をキャッシュファイル名として返す。
func ImageFileName(imageURL string) string {
	name := imageURL
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "image"
	}
	return name
}

func isRemoteURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func linkedImageHTML(src, alt string) string {
	var b strings.Builder
	b.WriteString("<p><img src='")
	b.WriteString(src)
	b.WriteString("'>")
	if alt != "" {
		b.WriteString("<br><small><i>")
		b.WriteString(alt)
		b.WriteString("</i></small>")
	}
	b.WriteString("<br><small><i>image pulled from RSS entry link</i></small></p>")
	return b.String()
}

func patternNotFoundHTML(patterns []ImagePattern) string {
	var parts []string
	for _, p := range patterns {
		src := strings.TrimSpace(html.EscapeString(p.Source))
		if src != "" {
			parts = append(parts, "<tt>"+src+"</tt>")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "<p><small><i>pattern(s) " + strings.Join(parts, ", ") + " not found in link</i></small></p>"
}
