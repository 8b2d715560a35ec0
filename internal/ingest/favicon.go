package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/groboclown/GroboRSS/internal/httpfetch"
)

// maxFaviconSize はfaviconの最大サイズ（2MB）。
const maxFaviconSize = 2 * 1024 * 1024

// fetchFavicon はフィードと同じホストの/favicon.icoを取得する。
// 取得できなかった場合は空のスライスを返し、次回以降の再取得を抑止する。
// オフライン設定の場合はnilを返す。
func fetchFavicon(ctx context.Context, conn *httpfetch.Connection) ([]byte, error) {
	fc, err := conn.FaviconConnection(ctx)
	if err != nil {
		return []byte{}, err
	}
	if fc == nil {
		return nil, nil
	}
	defer fc.Close()

	if ct := fc.ContentType(); ct != "" && !isImageMime(ct) {
		return []byte{}, fmt.Errorf("画像以外のContent-Type: %s", ct)
	}
	data, err := io.ReadAll(io.LimitReader(fc.AsInputStream(), maxFaviconSize+1))
	if err != nil {
		return []byte{}, fmt.Errorf("faviconの読み取りに失敗: %w", err)
	}
	if len(data) > maxFaviconSize {
		return []byte{}, fmt.Errorf("faviconのサイズが上限を超えています: %d", len(data))
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// isImageMime はContent-Typeが画像かどうかを判定する。
// 一部のサーバーがfaviconに返すapplication/octet-streamも許可する。
func isImageMime(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	mediaType = strings.ToLower(mediaType)
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
