package feedparser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	htmlTagPattern = regexp.MustCompile(`<(.|\n)*?>`)

	entityReplacer = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// UnescapeTitle は記事タイトルからタグを取り除き、主要な文字参照を戻す。
// 数値文字参照が残っている場合のみ、すべての文字参照をデコードする。
func UnescapeTitle(title string) string {
	result := strings.ReplaceAll(title, "&amp;", "&")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = entityReplacer.Replace(result)
	if strings.Contains(result, "&#") {
		return html.UnescapeString(result)
	}
	return result
}
