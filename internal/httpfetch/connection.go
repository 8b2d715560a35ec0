package httpfetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Connection は1回の接続で受信した応答を表す。
// 本文は先頭LookAheadバイトまで巻き戻し可能で、gzipは透過的に展開される。
type Connection struct {
	factory  *Factory
	resp     *http.Response
	url      *url.URL
	body     *rewindReader
	decision *CharsetDecision
}

func newConnection(f *Factory, resp *http.Response) (*Connection, error) {
	body, err := f.openBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &Connection{
		factory: f,
		resp:    resp,
		url:     resp.Request.URL,
		body:    newRewindReader(body),
	}, nil
}

// URL はリダイレクト追跡後の最終的なURLを返す。
func (c *Connection) URL() *url.URL {
	return c.url
}

// ContentType は応答のContent-Typeヘッダーを返す。
func (c *Connection) ContentType() string {
	return c.resp.Header.Get("Content-Type")
}

// Close は接続を閉じる。
func (c *Connection) Close() error {
	return c.resp.Body.Close()
}

// AsInputStream は本文のバイトストリームを返す。
// 読み取りは現在位置から続き、Resetで先頭に戻せる。
func (c *Connection) AsInputStream() io.Reader {
	return c.body
}

// AsBytes は本文の残り全体を読み取る。
func (c *Connection) AsBytes() ([]byte, error) {
	b, err := io.ReadAll(c.body)
	if err != nil {
		return nil, fmt.Errorf("本文の読み取りに失敗: %w", err)
	}
	return b, nil
}

// AsReader は本文をUTF-8に変換するReaderを返す。
// charsetが空の場合は判定済みの転送文字コードを使用する。
func (c *Connection) AsReader(charset string) (io.Reader, error) {
	if charset == "" {
		charset = c.EncodingCharset(false)
	}
	return NewDecodingReader(c.body, charset)
}

// AsString は本文全体を文字列として返す。
// xmlCompatibleがtrueの場合はXML用の文字コードでデコードする。
func (c *Connection) AsString(xmlCompatible bool) (string, error) {
	charset := c.EncodingCharset(xmlCompatible)
	b, err := c.AsBytes()
	if err != nil {
		return "", err
	}
	return DecodeBytes(b, charset)
}

// Peek は本文先頭からnバイトを読み位置を変えずに返す。
func (c *Connection) Peek(n int) ([]byte, error) {
	return c.body.Peek(n)
}

// Reset は本文を先頭に巻き戻す。
// 先読み範囲を超えて読み進めていた場合は同じURLに再接続する。
func (c *Connection) Reset(ctx context.Context) error {
	if c.body.Rewind() {
		return nil
	}
	c.resp.Body.Close()
	next, err := c.factory.Connect(ctx, c.url.String())
	if err != nil {
		return fmt.Errorf("再接続に失敗: %w", err)
	}
	if next == nil {
		return fmt.Errorf("再接続に失敗: offline")
	}
	*c = *next
	return nil
}

// FaviconConnection は同じホストの /favicon.ico への接続を返す。
func (c *Connection) FaviconConnection(ctx context.Context) (*Connection, error) {
	return c.factory.Connect(ctx, FaviconURL(c.url))
}

// IsHTMLDocument はContent-Typeがtext/htmlかどうかを返す。
func (c *Connection) IsHTMLDocument() bool {
	ct := c.ContentType()
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType == "text/html"
	}
	return strings.HasPrefix(strings.ToLower(ct), "text/html")
}

// Decision は文字コードの判定結果を返す。判定は初回呼び出し時に1度だけ行う。
func (c *Connection) Decision() CharsetDecision {
	if c.decision == nil {
		head, _ := c.body.Peek(LookAhead)
		d := ResolveCharset(c.ContentType(), head)
		c.decision = &d
	}
	return *c.decision
}

// EncodingCharset は転送文字コード、またはxmlCompatibleがtrueならXML用の文字コードを返す。
func (c *Connection) EncodingCharset(xmlCompatible bool) string {
	d := c.Decision()
	if xmlCompatible {
		return d.XML
	}
	return d.Transfer
}

// IsXMLEncodingSupported は転送文字コードとXML用の文字コードが一致するかどうかを返す。
// 一致する場合はバイトストリームを直接XMLとしてデコードできる。
func (c *Connection) IsXMLEncodingSupported() bool {
	return c.Decision().XMLCompatible()
}
