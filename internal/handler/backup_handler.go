package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBackupSize は取り込むバックアップファイルの最大バイト数。
const maxBackupSize = 256 << 20

// BackupServiceInterface はバックアップハンドラーが必要とするサービスインターフェース。
// backup.Serviceが満たす。
type BackupServiceInterface interface {
	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) error
	ExportOPML(ctx context.Context, w io.Writer) error
	ImportOPML(ctx context.Context, r io.Reader) (int, error)
}

// BackupHandler はJSONバックアップとOPMLの入出力を扱うHTTPハンドラー。
type BackupHandler struct {
	service BackupServiceInterface
	logger  *slog.Logger
	now     func() time.Time
}

// NewBackupHandler はBackupHandlerを生成する。
func NewBackupHandler(service BackupServiceInterface, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{service: service, logger: logger, now: time.Now}
}

// opmlImportResponse はOPML取り込みの結果。
type opmlImportResponse struct {
	Added int `json:"added"`
}

// Export は全テーブルのJSONバックアップをダウンロードさせる。
// GET /api/backup
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.writeAttachment(w, "application/json", "groborss-"+h.now().Format("20060102")+".json", buf.Bytes())
}

// Import はJSONバックアップで全テーブルを置き換える。検証エラー時は何も変更しない。
// POST /api/backup
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBackupSize)
	if err := h.service.Import(r.Context(), body); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportOPML はフィード一覧をOPMLでダウンロードさせる。
// GET /api/opml
func (h *BackupHandler) ExportOPML(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.ExportOPML(r.Context(), &buf); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.writeAttachment(w, "text/x-opml; charset=utf-8", "groborss.opml", buf.Bytes())
}

// ImportOPML はOPMLに含まれる未登録のフィードを登録する。
// POST /api/opml
func (h *BackupHandler) ImportOPML(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBackupSize)
	added, err := h.service.ImportOPML(r.Context(), body)
	if err != nil {
		if added > 0 {
			h.logger.Warn("OPMLの取り込みが途中で失敗しました", slog.Int("added", added))
		}
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, opmlImportResponse{Added: added})
}

func (h *BackupHandler) writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
