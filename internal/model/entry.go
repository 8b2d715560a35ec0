package model

import "time"

// Entry は保存済みの記事を表す。
type Entry struct {
	ID          string
	FeedID      string
	Title       string
	Link        string
	Description string
	Author      string
	Enclosure   string
	GUID        string
	Date        time.Time
	// ReadDate はnilなら未読。
	ReadDate  *time.Time
	Favorite  bool
	CreatedAt time.Time
}

// EnclosureSeparator はエンクロージャ文字列の区切り。
const EnclosureSeparator = "[@]"

// Enclosure は記事に添付されたメディアを表す。
type Enclosure struct {
	URL    string
	Type   string
	Length string
}

// IsZero はURLが空かどうかを返す。
func (e Enclosure) IsZero() bool {
	return e.URL == ""
}

// String は保存用の "url[@]type[@]length" 形式に変換する。
func (e Enclosure) String() string {
	if e.IsZero() {
		return ""
	}
	return e.URL + EnclosureSeparator + e.Type + EnclosureSeparator + e.Length
}

// EntryCandidate は1つの<item>/<entry>要素から組み立てた未保存の記事。
type EntryCandidate struct {
	Title       string
	Date        *time.Time
	Link        string
	Description string
	Enclosure   Enclosure
	GUID        string
	Author      string
	// Images は画像キャッシュに取り込む画像URL。
	Images []string
}

// DedupKey は既存記事の同一性を判定するキー。
// Enclosure と GUID は空でない場合のみ照合条件に含める。
type DedupKey struct {
	Link      string
	Enclosure string
	GUID      string
}

// Key は候補記事の重複判定キーを返す。
func (c *EntryCandidate) Key() DedupKey {
	return DedupKey{Link: c.Link, Enclosure: c.Enclosure.String(), GUID: c.GUID}
}

// IsEmpty はリンクとGUIDのどちらも持たない（既存記事を特定できない）かどうかを返す。
func (k DedupKey) IsEmpty() bool {
	return k.Link == "" && k.GUID == ""
}
