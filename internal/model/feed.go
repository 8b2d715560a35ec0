// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// FetchMode はフィード本文の読み取り方式を表す。
type FetchMode int

const (
	// FetchModeUndetermined は未判定。次回の取得時に文字コードを調べて決定する。
	FetchModeUndetermined FetchMode = 0
	// FetchModeDirect はバイトストリームをそのままXMLとしてデコードする方式。
	FetchModeDirect FetchMode = 1
	// FetchModeReencode は一度文字列に変換してからXMLとして再解析する方式。
	FetchModeReencode FetchMode = 2
)

// String はフェッチモードの表示名を返す。
func (m FetchMode) String() string {
	switch m {
	case FetchModeDirect:
		return "direct"
	case FetchModeReencode:
		return "reencode"
	default:
		return "undetermined"
	}
}

// Feed は購読中のRSS/RDF/Atomフィードを表す。
type Feed struct {
	ID       string
	URL      string
	Name     string
	Homepage string
	// Icon はfaviconのバイト列。nilは未取得、空スライスは取得失敗済みを表す。
	Icon []byte
	// LastUpdate は最後に取得に成功した日時。
	LastUpdate *time.Time
	// RealLastUpdate はこれまでに見た記事日付の最大値（ウォーターマーク）。
	RealLastUpdate *time.Time
	FetchMode      FetchMode
	Error          string
	// ImagePattern は記事リンク先から画像を探すための正規表現（カンマ区切り）。
	ImagePattern string
	// SkipAlert がtrueのフィードは新着件数の集計に含めない。
	SkipAlert bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BaseURL はフィードURLのスキームとホスト部分（例: https://example.com）を返す。
// 相対リンクの解決に使用する。
func (f *Feed) BaseURL() string {
	return BaseURLOf(f.URL)
}

// BaseURLOf はURLの先頭から、スキーム区切りの後に現れる最初の'/'の手前までを返す。
func BaseURLOf(rawURL string) string {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return ""
	}
	rest := rawURL[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rawURL[:i+3+j]
	}
	return rawURL
}

// FeedUpdate はフィードのメタデータ更新内容を表す。
// nilのフィールドは更新しない。
type FeedUpdate struct {
	URL            *string
	Name           *string
	Homepage       *string
	Icon           []byte
	SetIcon        bool
	LastUpdate     *time.Time
	RealLastUpdate *time.Time
	FetchMode      *FetchMode
	Error          *string
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (u FeedUpdate) IsEmpty() bool {
	return u.URL == nil && u.Name == nil && u.Homepage == nil && !u.SetIcon &&
		u.LastUpdate == nil && u.RealLastUpdate == nil && u.FetchMode == nil && u.Error == nil
}
