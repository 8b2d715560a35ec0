// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 取得処理で発生する定義済みエラー。
var (
	// ErrProtocolRedirect はhttp<->httpsをまたぐリダイレクトが許可されていない場合のエラー。
	ErrProtocolRedirect = errors.New("https<->http redirect is not allowed")
	// ErrTooManyRedirects はプロトコルをまたぐリダイレクトの上限を超えた場合のエラー。
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrFeedNotFound は指定IDのフィードが存在しない場合のエラー。
	ErrFeedNotFound = errors.New("feed not found")
)

// HTTPStatusError は2xx以外のHTTPステータスを受け取った場合のエラー。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// ImportError はJSONバックアップの検証エラー。インポート全体が中止される。
type ImportError struct {
	Table  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ImportError) Error() string {
	if e.Table == "" {
		return "invalid backup: " + e.Reason
	}
	return fmt.Sprintf("invalid backup table %q: %s", e.Table, e.Reason)
}

// APIError は統一エラーフォーマットを表す。
// 管理APIのレスポンスとして返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL     = "INVALID_URL"
	ErrCodeFeedNotFound   = "FEED_NOT_FOUND"
	ErrCodeFeedExists     = "FEED_ALREADY_EXISTS"
	ErrCodeEntryNotFound  = "ENTRY_NOT_FOUND"
	ErrCodeFetchFailed    = "FETCH_FAILED"
	ErrCodeInvalidBackup  = "INVALID_BACKUP"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewFeedNotFoundError はフィード未検出エラーを生成する。
func NewFeedNotFoundError(feedID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", feedID),
		Category: "feed",
		Action:   "フィードIDを確認してください。",
	}
}

// NewFeedExistsError は登録済みフィードの重複登録エラーを生成する。
func NewFeedExistsError(feedURL string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedExists,
		Message:  fmt.Sprintf("このフィードは登録済みです: %s", feedURL),
		Category: "feed",
		Action:   "登録済みのフィードを手動更新してください。",
	}
}

// NewEntryNotFoundError は記事未検出エラーを生成する。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", entryID),
		Category: "feed",
		Action:   "記事IDを確認してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewInvalidBackupError はバックアップ検証エラーを生成する。
func NewInvalidBackupError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBackup,
		Message:  fmt.Sprintf("バックアップファイルが不正です: %s", reason),
		Category: "validation",
		Action:   "エクスポートしたファイルをそのまま指定してください。データは変更されていません。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
