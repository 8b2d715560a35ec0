// Package htmltoken はフィード本文向けの寛容なHTMLトークナイザを提供する。
// 不正なマークアップでも失敗せず、変更していないトークンは入力と同一のバイト列に復元できる。
package htmltoken

import "strings"

// Kind はトークンの種類を表す。
type Kind int

const (
	// Text はタグではないプレーンテキスト。
	Text Kind = iota
	// Start は開始タグ。
	Start
	// End は終了タグ。
	End
	// SelfClosing は自己終了タグ（開始かつ終了）。
	SelfClosing
)

// MaxAttributes は1つのタグで保持する属性数の上限。
// 上限を超えた属性は読み飛ばされ、タグを書き換えた場合は出力から消える。
const MaxAttributes = 30

// Quote は属性値の引用符スタイル。
type Quote byte

const (
	// QuoteNone は値を持たない属性（例: <input checked>）。
	QuoteNone Quote = 0
	// QuoteBare は引用符なしの値（例: state=on）。
	QuoteBare Quote = ' '
	// QuoteSingle はシングルクォートで囲まれた値。
	QuoteSingle Quote = '\''
	// QuoteDouble はダブルクォートで囲まれた値。
	QuoteDouble Quote = '"'
)

// Attribute はタグの属性1件を表す。
type Attribute struct {
	Key   string
	Value string
	Quote Quote
}

// HasValue は属性が値を持つかどうかを返す。
func (a Attribute) HasValue() bool {
	return a.Quote != QuoteNone
}

type attribute struct {
	Attribute
	removed bool
}

// Token はソースバッファ上の1区間（テキストまたはタグ）を表す。
type Token struct {
	kind    Kind
	name    string
	rawName string
	source  string
	start   int
	end     int
	attrs   []attribute

	// overlay はSetAttributeで追加・置換された属性。キーは小文字。
	overlay      map[string]string
	overlayOrder []string
	overlayKeys  map[string]string
	mutated      bool
}

// NewText はテキスト全体を1つのプレーンテキストトークンとして生成する。
func NewText(text string) *Token {
	return &Token{kind: Text, source: text, start: 0, end: len(text)}
}

// NewTextRange はtext[start:end]を指すプレーンテキストトークンを生成する。
func NewTextRange(text string, start, end int) *Token {
	return &Token{kind: Text, source: text, start: start, end: end}
}

// Kind はトークンの種類を返す。
func (t *Token) Kind() Kind { return t.kind }

// IsText はプレーンテキストかどうかを返す。
func (t *Token) IsText() bool { return t.kind == Text }

// IsTag はタグかどうかを返す。
func (t *Token) IsTag() bool { return t.kind != Text }

// IsStart は開始タグ（自己終了タグを含む）かどうかを返す。
func (t *Token) IsStart() bool { return t.kind == Start || t.kind == SelfClosing }

// IsEnd は終了タグ（自己終了タグを含む）かどうかを返す。
func (t *Token) IsEnd() bool { return t.kind == End || t.kind == SelfClosing }

// Name は小文字化したタグ名を返す。プレーンテキストの場合は空文字。
func (t *Token) Name() string { return t.name }

// Text はトークンが指すソース上の生テキストを返す。
func (t *Token) Text() string { return t.source[t.start:t.end] }

// Mutated はトークンが書き換えられたかどうかを返す。
func (t *Token) Mutated() bool { return t.mutated }

// Attributes は有効な属性を出現順に返す。
// SetAttributeで置換された値は元の位置に、新規追加分は末尾に並ぶ。
func (t *Token) Attributes() []Attribute {
	var out []Attribute
	seen := make(map[string]bool)
	for _, a := range t.attrs {
		if a.removed {
			continue
		}
		lk := strings.ToLower(a.Key)
		if v, ok := t.overlay[lk]; ok {
			if seen[lk] {
				continue
			}
			seen[lk] = true
			out = append(out, Attribute{Key: a.Key, Value: v, Quote: QuoteDouble})
			continue
		}
		out = append(out, a.Attribute)
	}
	for _, lk := range t.overlayOrder {
		if seen[lk] {
			continue
		}
		v, ok := t.overlay[lk]
		if !ok {
			continue
		}
		seen[lk] = true
		out = append(out, Attribute{Key: t.overlayKeys[lk], Value: v, Quote: QuoteDouble})
	}
	return out
}

// AttributeValue はキーに対応する属性値を大文字小文字を区別せずに返す。
// SetAttributeで設定された値が優先される。値のない属性は("", true)を返す。
func (t *Token) AttributeValue(key string) (string, bool) {
	lk := strings.ToLower(key)
	if v, ok := t.overlay[lk]; ok {
		return v, true
	}
	for _, a := range t.attrs {
		if !a.removed && strings.EqualFold(a.Key, key) {
			return a.Value, true
		}
	}
	return "", false
}

// HasAttribute は属性が存在するかどうかを返す。
func (t *Token) HasAttribute(key string) bool {
	_, ok := t.AttributeValue(key)
	return ok
}

// RemoveAttribute はキーに一致する属性をすべて削除する。
// 削除は墓標として記録され、残りの属性の順序は保たれる。
func (t *Token) RemoveAttribute(key string) bool {
	if t.kind == Text {
		return false
	}
	removed := false
	for i := range t.attrs {
		if !t.attrs[i].removed && strings.EqualFold(t.attrs[i].Key, key) {
			t.attrs[i].removed = true
			removed = true
		}
	}
	lk := strings.ToLower(key)
	if _, ok := t.overlay[lk]; ok {
		delete(t.overlay, lk)
		removed = true
	}
	if removed {
		t.mutated = true
	}
	return removed
}

// SetAttribute は属性値を追加または置換する。
// 置換された元の属性は出力されず、新しい値がダブルクォートで書き出される。
func (t *Token) SetAttribute(key, value string) {
	if t.kind == Text {
		return
	}
	lk := strings.ToLower(key)
	if t.overlay == nil {
		t.overlay = make(map[string]string)
		t.overlayKeys = make(map[string]string)
	}
	if _, ok := t.overlayKeys[lk]; !ok {
		t.overlayOrder = append(t.overlayOrder, lk)
		t.overlayKeys[lk] = key
	}
	t.overlay[lk] = value
	t.mutated = true
}

// String はトークンをHTMLとして書き出す。
// 変更されていないトークンは元のバイト列をそのまま返す。
func (t *Token) String() string {
	if !t.mutated {
		return t.Text()
	}
	var b strings.Builder
	t.render(&b)
	return b.String()
}
