// Package rewrite はフィード記事本文をHTMLとして表示できる形に書き換える。
// BBCodeの展開、URLの自動リンク化、キャッシュ画像の参照解決、ウェブバグの除去、alt属性のキャプション化を行う。
package rewrite

import (
	"html"
	"regexp"
	"strings"

	"github.com/groboclown/GroboRSS/internal/htmltoken"
)

const (
	// ImageIDPlaceholder は取り込み時に画像URLへ埋め込み、表示時に記事IDで置き換える文字列。
	ImageIDPlaceholder = "(imageid)"
	// ImageIDSeparator はキャッシュ画像のファイル名で記事IDと元のファイル名を区切る文字列。
	ImageIDSeparator = "__"

	// BugZappedHTML はウェブバグを置き換える表示。
	BugZappedHTML = "<small><i>Bug Zapped!</i></small>"
)

var (
	endlinePattern = regexp.MustCompile(`<((br)|p)(\s[^/>]*)?/?>`)
	newlinePattern = regexp.MustCompile(`(\r\n)+|\n+|\r+`)

	// captionEscaper はキャプション文字列をテキストとして出力できる形にする。
	captionEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	// trackerSrcPatterns は既知のトラッキングピクセルのURL形式。
	trackerSrcPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/tracking/[^/]*rss-pixel.png\?`),
	}
)

// Settings は表示時の書き換え設定。
type Settings struct {
	// DisablePictures がtrueの場合、imgタグをすべて取り除く。
	DisablePictures bool
	// StripWebBugs がtrueの場合、トラッキング用の画像を置き換える。
	StripWebBugs bool
}

// Result は書き換え結果。
type Result struct {
	HTML string
	// HasImages はキャッシュ済み画像を参照しているかどうか。
	HasImages bool
}

// Rewriter は記事本文を表示用HTMLに変換する。
// 状態を持たないため、複数のゴルーチンから同時に使用できる。
type Rewriter struct {
	settings Settings
}

// NewRewriter はRewriterの新しいインスタンスを生成する。
func NewRewriter(settings Settings) *Rewriter {
	return &Rewriter{settings: settings}
}

// Render は記事本文を表示用HTMLに変換する。
// 同じ設定で自身の出力を再度変換しても結果は変わらない。
func (r *Rewriter) Render(entryID, text string) Result {
	text = ConvertBBCode(text)
	if !endlinePattern.MatchString(text) {
		text = newlinePattern.ReplaceAllString(text, "<br>")
	}

	p := &pass{settings: r.settings, entryID: entryID}
	queue := htmltoken.Tokenize(text)
	for i := 0; i < len(queue); i++ {
		current := queue[i]
		switch {
		case current.IsText():
			p.handleText(current)
		case current.IsStart() && current.Name() == "img":
			if caption := p.handleImage(current); caption != "" {
				// キャプションは後続のトークンとして同じ処理にかける
				rest := append(htmltoken.Tokenize(caption), queue[i+1:]...)
				queue = append(queue[:i+1], rest...)
			}
		default:
			p.trackAnchor(current)
			p.out = append(p.out, current)
		}
		p.prev = current
	}
	return Result{HTML: htmltoken.Serialize(p.out), HasImages: p.hasImages}
}

// pass は1回のRenderの作業状態。
type pass struct {
	settings   Settings
	entryID    string
	out        []*htmltoken.Token
	prev       *htmltoken.Token
	openAnchor string
	hasImages  bool
}

func (p *pass) trackAnchor(tok *htmltoken.Token) {
	if tok.Name() != "a" {
		return
	}
	if tok.Kind() == htmltoken.Start {
		p.openAnchor, _ = tok.AttributeValue("href")
	} else if tok.IsEnd() {
		p.openAnchor = ""
	}
}

// handleImage はimgタグを処理し、続けて出力するキャプションを返す。
func (p *pass) handleImage(tok *htmltoken.Token) string {
	if p.settings.DisablePictures {
		return ""
	}

	src, _ := tok.AttributeValue("src")
	if p.settings.StripWebBugs && IsWebBug(tok) {
		p.out = append(p.out, htmltoken.NewText(BugZappedHTML))
		return ""
	}

	if strings.Contains(src, ImageIDPlaceholder) {
		p.hasImages = true
		tok.SetAttribute("src", strings.ReplaceAll(src, ImageIDPlaceholder, p.entryID+ImageIDSeparator))
	}

	alt, _ := tok.AttributeValue("alt")
	title, _ := tok.AttributeValue("title")
	tok.RemoveAttribute("alt")
	tok.RemoveAttribute("title")
	p.out = append(p.out, tok)

	caption := strings.TrimSpace(alt)
	if caption == "" {
		caption = strings.TrimSpace(title)
	}
	if caption == "" {
		return ""
	}
	// エンティティ化済みの値を二重にエスケープしないよう、一度デコードしてから戻す
	return "<br><small><i>" + captionEscaper.Replace(html.UnescapeString(caption)) + "</i></small>"
}

// IsWebBug は画像がトラッキング用のウェブバグかどうかを判定する。
// 幅と高さがともに1ピクセル、または既知のトラッキングURLに一致する場合に該当する。
func IsWebBug(tok *htmltoken.Token) bool {
	height, _ := tok.AttributeValue("height")
	width, _ := tok.AttributeValue("width")
	if isWebBugSize(height) && isWebBugSize(width) {
		return true
	}
	src, ok := tok.AttributeValue("src")
	if !ok {
		return false
	}
	for _, re := range trackerSrcPatterns {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

func isWebBugSize(size string) bool {
	size = strings.ToLower(strings.TrimSpace(size))
	return size == "1" || size == "1px"
}
