package htmltoken

import "strings"

// Serialize はトークン列を連結して1つのHTML文字列に戻す。
func Serialize(tokens []*Token) string {
	var b strings.Builder
	for _, t := range tokens {
		if t == nil {
			continue
		}
		if t.mutated {
			t.render(&b)
		} else {
			b.WriteString(t.Text())
		}
	}
	return b.String()
}

// render は書き換えられたタグを再構築する。
// 元の属性は元の引用符スタイルで、上書きされた属性はダブルクォートで出力する。
func (t *Token) render(b *strings.Builder) {
	if t.kind == Text {
		b.WriteString(t.Text())
		return
	}
	if t.kind == End {
		b.WriteString("</")
		b.WriteString(t.rawName)
		b.WriteByte('>')
		return
	}

	b.WriteByte('<')
	b.WriteString(t.rawName)
	written := make(map[string]bool)
	for _, a := range t.attrs {
		if a.removed {
			continue
		}
		lk := strings.ToLower(a.Key)
		if v, ok := t.overlay[lk]; ok {
			if !written[lk] {
				writeOverlay(b, a.Key, v)
				written[lk] = true
			}
			continue
		}
		b.WriteByte(' ')
		b.WriteString(a.Key)
		switch a.Quote {
		case QuoteNone:
		case QuoteBare:
			b.WriteByte('=')
			b.WriteString(a.Value)
		default:
			b.WriteByte('=')
			b.WriteByte(byte(a.Quote))
			b.WriteString(a.Value)
			b.WriteByte(byte(a.Quote))
		}
	}
	for _, lk := range t.overlayOrder {
		v, ok := t.overlay[lk]
		if !ok || written[lk] {
			continue
		}
		writeOverlay(b, t.overlayKeys[lk], v)
		written[lk] = true
	}
	if t.kind == SelfClosing {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
}

func writeOverlay(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteString(`="`)
	b.WriteString(strings.ReplaceAll(value, `"`, "&quot;"))
	b.WriteByte('"')
}
