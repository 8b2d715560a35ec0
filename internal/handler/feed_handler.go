package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groboclown/GroboRSS/internal/middleware"
	"github.com/groboclown/GroboRSS/internal/model"
)

const (
	// defaultEntriesPerPage は記事一覧の1回の取得件数（デフォルト）。
	defaultEntriesPerPage = 50
	maxEntriesPerPage     = 500
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServiceInterface interface {
	// RegisterFeed はURLのフィードを登録し、初回の取得を行う。
	RegisterFeed(ctx context.Context, inputURL string) (*model.Feed, error)
	// ListFeeds は全フィードを返す。
	ListFeeds(ctx context.Context) ([]*model.Feed, error)
	// GetFeed はフィード情報を取得する。見つからない場合はnil。
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)
	// RefreshFeed はフィードを即時に取得し、新着件数を返す。
	RefreshFeed(ctx context.Context, feedID string) (int, error)
	// DeleteFeed はフィードと記事を削除する。
	DeleteFeed(ctx context.Context, feedID string) error
	// ListEntries はフィードの記事を新しい順に最大limit件返す。
	ListEntries(ctx context.Context, feedID string, limit int) ([]*model.Entry, error)
}

// FeedHandler はフィード管理のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{service: service, logger: logger}
}

// registerFeedRequest はフィード登録リクエストのボディ。
type registerFeedRequest struct {
	URL string `json:"url"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Name           string     `json:"name"`
	Homepage       string     `json:"homepage"`
	HasIcon        bool       `json:"has_icon"`
	LastUpdate     *time.Time `json:"last_update"`
	RealLastUpdate *time.Time `json:"real_last_update"`
	FetchMode      string     `json:"fetch_mode"`
	Error          string     `json:"error"`
	SkipAlert      bool       `json:"skip_alert"`
}

// entrySummaryResponse は記事一覧の要素。本文は含まない。
type entrySummaryResponse struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Link     string    `json:"link"`
	Author   string    `json:"author"`
	Date     time.Time `json:"date"`
	IsRead   bool      `json:"is_read"`
	Favorite bool      `json:"favorite"`
}

// refreshResponse は手動更新の結果。
type refreshResponse struct {
	FeedID   string `json:"feed_id"`
	NewCount int    `json:"new_count"`
}

// ListFeeds はフィード一覧を返す。
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.service.ListFeeds(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	resp := make([]feedResponse, len(feeds))
	for i, f := range feeds {
		resp[i] = toFeedResponse(f)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterFeed はフィード登録を処理する。
// POST /api/feeds
func (h *FeedHandler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	var req registerFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.URL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	feed, err := h.service.RegisterFeed(r.Context(), req.URL)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(feed))
}

// GetFeed はフィード詳細を取得する。
// GET /api/feeds/{id}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	feed, err := h.service.GetFeed(r.Context(), feedID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if feed == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewFeedNotFoundError(feedID))
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// RefreshFeed はフィードを即時に取得する。
// POST /api/feeds/{id}/refresh
func (h *FeedHandler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	n, err := h.service.RefreshFeed(r.Context(), feedID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{FeedID: feedID, NewCount: n})
}

// DeleteFeed はフィードを削除する。
// DELETE /api/feeds/{id}
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteFeed(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries はフィードの記事一覧を返す。
// GET /api/feeds/{id}/entries?limit=N
func (h *FeedHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit := defaultEntriesPerPage
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEntriesPerPage {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("limitは1から500の整数で指定してください"))
			return
		}
		limit = n
	}

	entries, err := h.service.ListEntries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	resp := make([]entrySummaryResponse, len(entries))
	for i, e := range entries {
		resp[i] = entrySummaryResponse{
			ID:       e.ID,
			Title:    e.Title,
			Link:     e.Link,
			Author:   e.Author,
			Date:     e.Date,
			IsRead:   e.ReadDate != nil,
			Favorite: e.Favorite,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- ヘルパー関数 ---

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(feed *model.Feed) feedResponse {
	return feedResponse{
		ID:             feed.ID,
		URL:            feed.URL,
		Name:           feed.Name,
		Homepage:       feed.Homepage,
		HasIcon:        len(feed.Icon) > 0,
		LastUpdate:     feed.LastUpdate,
		RealLastUpdate: feed.RealLastUpdate,
		FetchMode:      feed.FetchMode.String(),
		Error:          feed.Error,
		SkipAlert:      feed.SkipAlert,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func (h *FeedHandler) handleServiceError(w http.ResponseWriter, err error) {
	handleServiceError(w, h.logger, err)
}

func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var importErr *model.ImportError
	if errors.As(err, &importErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBackupError(importErr.Error()))
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidRequest, model.ErrCodeInvalidBackup:
		return http.StatusBadRequest
	case model.ErrCodeFeedNotFound, model.ErrCodeEntryNotFound:
		return http.StatusNotFound
	case model.ErrCodeFeedExists:
		return http.StatusConflict
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
