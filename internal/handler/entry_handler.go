package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groboclown/GroboRSS/internal/middleware"
	"github.com/groboclown/GroboRSS/internal/model"
	"github.com/groboclown/GroboRSS/internal/rewrite"
)

// EntryServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type EntryServiceInterface interface {
	// GetEntry は記事を取得する。見つからない場合はnil。
	GetEntry(ctx context.Context, entryID string) (*model.Entry, error)
}

// Renderer は記事本文を表示用HTMLに変換する。rewrite.Rewriterが満たす。
type Renderer interface {
	Render(entryID, text string) rewrite.Result
}

// EntryHandler は記事本文の表示用HTMLを返すHTTPハンドラー。
type EntryHandler struct {
	service  EntryServiceInterface
	renderer Renderer
	logger   *slog.Logger
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(service EntryServiceInterface, renderer Renderer, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{service: service, renderer: renderer, logger: logger}
}

// GetEntryHTML は記事本文を表示時の書き換えを行ったHTML断片として返す。
// GET /api/entries/{id}/html
func (h *EntryHandler) GetEntryHTML(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	entry, err := h.service.GetEntry(r.Context(), entryID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if entry == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewEntryNotFoundError(entryID))
		return
	}

	result := h.renderer.Render(entry.ID, entry.Description)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.HasImages {
		w.Header().Set("X-Entry-Has-Images", "true")
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, result.HTML)
}
