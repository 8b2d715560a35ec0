package httpfetch

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CharsetSource は文字コードの判定根拠を表す。
type CharsetSource string

const (
	// SourceHeader はContent-Typeヘッダーのcharsetパラメータ。
	SourceHeader CharsetSource = "header"
	// SourceBOM はバイトオーダーマーク。
	SourceBOM CharsetSource = "bom"
	// SourceDeclaration は本文先頭の encoding="..." 宣言。
	SourceDeclaration CharsetSource = "declaration"
	// SourceDefault は既定値。
	SourceDefault CharsetSource = "default"
)

// DefaultCharset は判定できなかった場合の文字コード。
const DefaultCharset = "ISO-8859-1"

// LookAhead は巻き戻し可能な先読みバイト数。文字コード宣言の探索範囲でもある。
const LookAhead = 4096

// CharsetDecision は1つの接続について判定した文字コード。
type CharsetDecision struct {
	// Transfer は本文の転送文字コード。
	Transfer string
	// XML はXMLデコーダに渡せる文字コード。Transferと異なる場合がある。
	XML    string
	Source CharsetSource
	// XMLSource はXMLの判定根拠。
	XMLSource CharsetSource
}

// XMLCompatible は転送文字コードをそのままXMLデコーダで扱えるかどうかを返す。
func (d CharsetDecision) XMLCompatible() bool {
	return d.Transfer == d.XML
}

// ResolveCharset はContent-Typeと本文先頭のバイト列から文字コードを判定する。
// 判定順序: ヘッダー、BOM、encoding宣言、既定値。
// XML用の文字コードはヘッダーの値がIANA名として通用しない場合のみBOM以降で判定し直す。
func ResolveCharset(contentType string, head []byte) CharsetDecision {
	var d CharsetDecision
	if name, ok := headerCharset(contentType); ok {
		d.Transfer, d.Source = name, SourceHeader
	} else {
		d.Transfer, d.Source = sniffCharset(head)
	}

	if d.Source == SourceHeader && !isXMLCharset(d.Transfer) {
		d.XML, d.XMLSource = sniffCharset(head)
	} else {
		d.XML, d.XMLSource = d.Transfer, d.Source
	}
	return d
}

// headerCharset はContent-Typeからcharsetを取り出し、デコーダが対応しているか検証する。
func headerCharset(contentType string) (string, bool) {
	if contentType == "" {
		return "", false
	}
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	} else {
		// 不正なContent-Typeでもcharset=だけは拾う
		lower := strings.ToLower(contentType)
		if i := strings.Index(lower, "charset="); i >= 0 {
			label = contentType[i+len("charset="):]
			if j := strings.IndexByte(label, ';'); j >= 0 {
				label = label[:j]
			}
		}
	}
	label = normalizeCharset(label)
	if label == "" {
		return "", false
	}
	if enc, _ := charset.Lookup(label); enc == nil {
		return "", false
	}
	return label, true
}

// sniffCharset はBOM、encoding宣言、既定値の順で文字コードを判定する。
func sniffCharset(head []byte) (string, CharsetSource) {
	if len(head) > LookAhead {
		head = head[:LookAhead]
	}
	if len(head) < 3 {
		return DefaultCharset, SourceDefault
	}
	if head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		return "UTF-8", SourceBOM
	}
	if (head[0] == 0xFE && head[1] == 0xFF) || (head[0] == 0xFF && head[1] == 0xFE) {
		return "UTF-16", SourceBOM
	}
	if name, ok := declaredCharset(head); ok {
		return name, SourceDeclaration
	}
	return DefaultCharset, SourceDefault
}

var encodingMarker = []byte(`encoding="`)

// declaredCharset は先頭バイト列をLatin-1として扱い encoding="..." を探す。
func declaredCharset(head []byte) (string, bool) {
	i := bytes.Index(head, encodingMarker)
	if i < 0 {
		return "", false
	}
	rest := head[i+len(encodingMarker):]
	j := bytes.IndexByte(rest, '"')
	if j <= 0 {
		return "", false
	}
	name := normalizeCharset(string(rest[:j]))
	if !isXMLCharset(name) {
		return "", false
	}
	return name, true
}

// isXMLCharset はXMLデコーダが受け付けるIANA登録名かどうかを返す。
func isXMLCharset(name string) bool {
	enc, err := ianaindex.IANA.Encoding(name)
	return err == nil && enc != nil
}

func normalizeCharset(label string) string {
	label = strings.TrimSpace(label)
	label = strings.Trim(label, `"'`)
	return strings.ToUpper(label)
}

// lookupEncoding は文字コード名に対応するエンコーディングを返す。
// IANA名を優先し、見つからなければWHATWGのラベルとして解決する。
func lookupEncoding(name string) (encoding.Encoding, error) {
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc, nil
	}
	if enc, _ := charset.Lookup(name); enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unsupported charset: %s", name)
}

// newDecoder は先頭のBOMを取り除きつつnameの文字コードでデコードする変換器を返す。
func newDecoder(name string) (transform.Transformer, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

// NewDecodingReader はrをUTF-8に変換するReaderを返す。
func NewDecodingReader(r io.Reader, name string) (io.Reader, error) {
	t, err := newDecoder(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, t), nil
}

// DecodeBytes はバイト列をUTF-8文字列に変換する。
func DecodeBytes(b []byte, name string) (string, error) {
	t, err := newDecoder(name)
	if err != nil {
		return "", err
	}
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return "", fmt.Errorf("文字コード変換に失敗: %w", err)
	}
	return string(out), nil
}
