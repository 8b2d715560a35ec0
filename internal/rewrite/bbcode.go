package rewrite

import "regexp"

// bbcodeRule はBBCodeの置換規則。urlFunc が設定されている場合、
// 1番目のキャプチャをURLとして属性値用にエンコードしてから渡す。
type bbcodeRule struct {
	pattern     *regexp.Regexp
	replacement string
	urlFunc     func(href, text string) string
}

// bbcodeRules はBBCodeからHTMLへの置換規則。上から順に適用する。
var bbcodeRules = []bbcodeRule{
	{pattern: regexp.MustCompile(`(?i)\[(/?(b|u|i|s))\]`), replacement: "<${1}>"},
	{
		pattern: regexp.MustCompile(`(?i)\[img\](https?://[^ \n\r\t\[\]<>]+)\[/img\]`),
		urlFunc: func(href, _ string) string { return "<img src='" + href + "'>" },
	},
	{
		pattern: regexp.MustCompile(`(?i)\[url\](https?://[^ \n\r\t\[\]<>]+)\[/url\]`),
		urlFunc: func(href, text string) string { return "<a href='" + href + "'>" + text + "</a>" },
	},
	{pattern: regexp.MustCompile(`(?i)\[code\]([^\]]*)\[/code\]`), replacement: "<pre>${1}</pre>"},
	{pattern: regexp.MustCompile(`(?i)\[/?(center|color|size|img|url|pre)[^\]]*\]`), replacement: ""},
}

// ConvertBBCode は簡易的なBBCodeをHTMLタグに変換する。
// 対応しないマーカー（center, color, size など）は取り除く。
func ConvertBBCode(src string) string {
	for _, r := range bbcodeRules {
		if r.urlFunc == nil {
			src = r.pattern.ReplaceAllString(src, r.replacement)
			continue
		}
		src = r.pattern.ReplaceAllStringFunc(src, func(m string) string {
			url := r.pattern.FindStringSubmatch(m)[1]
			return r.urlFunc(AttrURL(url), url)
		})
	}
	return src
}
