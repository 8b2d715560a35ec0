// Package httpfetch はフィードや画像の取得に使うHTTP接続層を提供する。
// 文字コードの判定、gzipの透過展開、プロトコルをまたぐリダイレクトの制御、巻き戻し可能な本文ストリームを扱う。
package httpfetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

const (
	// UserAgent は一部のフィードが要求するブラウザ相当のUser-Agent。
	UserAgent = "Mozilla/5.0"
	// MaxProtocolRedirects はプロトコルをまたぐリダイレクトを追跡する上限回数。
	MaxProtocolRedirects = 5
	// DefaultTimeout は接続・読み取りのタイムアウト。
	DefaultTimeout = 30 * time.Second

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	maxRedirects = 10
)

// ClientProvider はHTTPクライアントを生成する。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type ClientProvider interface {
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Options は接続ファクトリの設定。
type Options struct {
	// Online がfalseの場合、Connectは接続せずnilを返す。
	Online bool
	// ProxyURL はhttp://またはsocks5://形式のプロキシ。空なら直接接続。
	ProxyURL string
	// ImposeUserAgent がtrueの場合 User-Agent: Mozilla/5.0 を送信する。
	ImposeUserAgent bool
	// FollowProtocolRedirects がtrueの場合 http<->https のリダイレクトを追跡する。
	FollowProtocolRedirects bool
	Timeout                 time.Duration
	// MaxBodySize は本文の最大バイト数。0以下なら無制限。
	MaxBodySize int64
}

// Factory はURLへの接続を生成する。
type Factory struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewFactory はFactoryの新しいインスタンスを生成する。
// プロキシが設定されている場合はプロキシ経由のクライアントを、
// それ以外でproviderが指定されていればそのクライアントを使用する。
func NewFactory(opts Options, provider ClientProvider, logger *slog.Logger) (*Factory, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	var client *http.Client
	switch {
	case opts.ProxyURL != "":
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("プロキシURLの解析に失敗: %w", err)
		}
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
		}
	case provider != nil:
		client = provider.NewSafeClient(opts.Timeout, opts.MaxBodySize)
	default:
		client = &http.Client{Timeout: opts.Timeout}
	}

	// プロトコルが変わるリダイレクトはトランスポートで追わず、Location付きの応答として受け取る
	inner := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) > 0 && !strings.EqualFold(req.URL.Scheme, via[len(via)-1].URL.Scheme) {
			return http.ErrUseLastResponse
		}
		if inner != nil {
			return inner(req, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	return &Factory{opts: opts, client: client, logger: logger}, nil
}

// Online はネットワークに接続する設定かどうかを返す。
func (f *Factory) Online() bool {
	return f.opts.Online
}

// Connect はURLに接続し、応答ヘッダーを受信した状態のConnectionを返す。
// オフライン設定の場合はエラーではなく (nil, nil) を返す。
func (f *Factory) Connect(ctx context.Context, rawURL string) (*Connection, error) {
	if !f.opts.Online {
		return nil, nil
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	for hop := 0; ; hop++ {
		resp, err := f.do(ctx, u)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" {
			next, err := resp.Request.URL.Parse(location)
			if err == nil && !strings.EqualFold(next.Scheme, resp.Request.URL.Scheme) {
				resp.Body.Close()
				if !f.opts.FollowProtocolRedirects {
					return nil, fmt.Errorf("%s -> %s: %w", resp.Request.URL, next, model.ErrProtocolRedirect)
				}
				if hop >= MaxProtocolRedirects {
					return nil, model.ErrTooManyRedirects
				}
				f.logger.Debug("プロトコルをまたぐリダイレクトを追跡します",
					slog.String("from", resp.Request.URL.String()),
					slog.String("to", next.String()),
				)
				u = next
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, &model.HTTPStatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode}
		}
		return newConnection(f, resp)
	}
}

// do は1回のHTTPリクエストを送信する。URLのユーザー情報はBasic認証として送る。
func (f *Factory) do(ctx context.Context, u *url.URL) (*http.Response, error) {
	target := *u
	target.User = nil
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	if u.User != nil {
		password, _ := u.User.Password()
		req.SetBasicAuth(u.User.Username(), password)
	}
	if f.opts.ImposeUserAgent {
		req.Header.Set("User-Agent", UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗: %w", err)
	}
	return resp, nil
}

// openBody はgzipを透過的に展開し、サイズ上限を適用した本文Readerを返す。
func (f *Factory) openBody(resp *http.Response) (io.Reader, error) {
	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return strings.NewReader(""), nil
			}
			return nil, fmt.Errorf("gzipの展開に失敗: %w", err)
		}
		body = gz
	}
	if f.opts.MaxBodySize > 0 {
		body = io.LimitReader(body, f.opts.MaxBodySize)
	}
	return body, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// FaviconURL はURLと同じスキーム・ホストの /favicon.ico を返す。
func FaviconURL(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}
