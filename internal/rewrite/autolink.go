package rewrite

import (
	"strings"

	"github.com/groboclown/GroboRSS/internal/htmltoken"
)

// handleText はプレーンテキスト中のURLをアンカーで囲んで出力する。
// 直前のタグの属性値に同じURLが含まれる場合や、同じURLを指すアンカーの内側ではリンク化しない。
func (p *pass) handleText(tok *htmltoken.Token) {
	var prevValues []string
	if p.prev != nil && p.prev.IsTag() {
		for _, a := range p.prev.Attributes() {
			if a.Value != "" {
				prevValues = append(prevValues, a.Value)
			}
		}
	}

	text := tok.Text()
	emitted := 0
	for _, span := range FindURLs(text) {
		url := text[span[0]:span[1]]
		href := AttrURL(url)
		if containsAny(prevValues, url) || containsAny(prevValues, href) || p.insideAnchorTo(url, href) {
			continue
		}
		if span[0] > emitted {
			p.out = append(p.out, htmltoken.NewTextRange(text, emitted, span[0]))
		}
		p.out = append(p.out, htmltoken.NewText("<a href='"+href+"'>"+url+"</a>"))
		emitted = span[1]
	}
	if emitted == 0 {
		p.out = append(p.out, tok)
		return
	}
	if emitted < len(text) {
		p.out = append(p.out, htmltoken.NewTextRange(text, emitted, len(text)))
	}
}

func (p *pass) insideAnchorTo(url, href string) bool {
	if p.openAnchor == "" {
		return false
	}
	return strings.Contains(p.openAnchor, url) || strings.Contains(p.openAnchor, href)
}

// attrURLEscaper は属性値の引用符を閉じうる文字をパーセントエンコードする。
var attrURLEscaper = strings.NewReplacer("'", "%27", `"`, "%22", "<", "%3C", ">", "%3E")

// AttrURL はURLを引用符付きのhref/src属性値として書き出せる形に変換する。
func AttrURL(url string) string {
	return attrURLEscaper.Replace(url)
}

func containsAny(values []string, s string) bool {
	for _, v := range values {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}

// FindURLs はテキスト中の http:// または https:// で始まるURLの位置を返す。
// URLの前後は空白またはテキストの端でなければならない。
// URLは空白、'['、']'、'<'、'>' の直前で終わる。
func FindURLs(text string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(text); i++ {
		if i > 0 && !isURLSpace(text[i-1]) {
			continue
		}
		n := schemeLength(text[i:])
		if n == 0 {
			continue
		}
		end := i + n
		for end < len(text) && !isURLTerminator(text[end]) {
			end++
		}
		if end == i+n {
			continue
		}
		if end < len(text) && !isURLSpace(text[end]) {
			continue
		}
		spans = append(spans, [2]int{i, end})
		i = end - 1
	}
	return spans
}

func schemeLength(s string) int {
	for _, scheme := range []string{"http://", "https://"} {
		if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			return len(scheme)
		}
	}
	return 0
}

func isURLSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isURLTerminator(c byte) bool {
	return isURLSpace(c) || c == '[' || c == ']' || c == '<' || c == '>'
}
