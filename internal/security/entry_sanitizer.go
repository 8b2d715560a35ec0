// Package security はフィード取り込みのセキュリティ機能を提供する。
//
// EntrySanitizer は記事本文のHTMLを保存前にサニタイズする。
// SSRFGuard はフィードと画像の取得先を公開ネットワークに限定する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// EntrySanitizer は記事本文のHTMLをbluemondayの許可リストでサニタイズする。
// 表示時の書き換え（画像の注記、ウェブバグの除去、自動リンク）が参照する
// img の width/height/alt/title と a の href は残す。
type EntrySanitizer struct {
	policy *bluemonday.Policy
}

// NewEntrySanitizer はEntrySanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - UGCポリシーを基本とする（script, iframe, style, on*属性は除去）
//   - URLスキームは http, https, mailto
//   - img の data URI を許可
//   - 相対URLを許可（記事内の相対画像はパターン照合時に解決する）
func NewEntrySanitizer() *EntrySanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.AllowDataURIImages()
	p.AllowAttrs("title", "alt", "width", "height").OnElements("img")
	p.AllowElements("small", "tt")

	return &EntrySanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズして安全なHTMLを返す。空文字列の入力には空文字列を返す。
func (s *EntrySanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
