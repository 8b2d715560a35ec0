package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

// --- モック定義 ---

type mockTableStore struct {
	data        map[string][]model.Row
	readErr     error
	replaced    map[string][]model.Row
	replaceCall int
}

func (m *mockTableStore) ReadAll(_ context.Context, table model.Table) ([]model.Row, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.data[table.Name], nil
}

func (m *mockTableStore) ReplaceAll(_ context.Context, _ []model.Table, rows map[string][]model.Row) error {
	m.replaceCall++
	m.replaced = rows
	return nil
}

type mockFeedStore struct {
	feeds   []*model.Feed
	created []*model.Feed
}

func (m *mockFeedStore) List(_ context.Context) ([]*model.Feed, error) {
	return m.feeds, nil
}

func (m *mockFeedStore) FindByURL(_ context.Context, feedURL string) (*model.Feed, error) {
	for _, f := range append(m.feeds, m.created...) {
		if f.URL == feedURL {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFeedStore) Create(_ context.Context, feed *model.Feed) error {
	feed.ID = "new-" + feed.URL
	m.created = append(m.created, feed)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

var (
	created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated = time.Date(2024, 1, 2, 12, 30, 0, 0, time.UTC)
)

func sampleData() map[string][]model.Row {
	return map[string][]model.Row{
		"feeds": {
			{
				"id": "feed-1", "url": "https://example.com/rss.xml", "name": "Example",
				"homepage": "https://example.com", "icon": []byte{0x00, 0x7f, 0xff},
				"last_update": timePtr(updated), "real_last_update": nil,
				"fetch_mode": int64(1), "error": "", "image_pattern": "",
				"skip_alert": true, "created_at": timePtr(created), "updated_at": timePtr(updated),
			},
		},
		"entries": {
			{
				"id": "entry-1", "feed_id": "feed-1", "title": "記事", "link": "https://example.com/1",
				"description": "<p>本文</p>", "author": "", "enclosure": "", "guid": "g1",
				"date": timePtr(updated), "read_date": nil, "favorite": false,
				"created_at": timePtr(created),
			},
		},
	}
}

// --- Export のテスト ---

func TestExport_Format(t *testing.T) {
	store := &mockTableStore{data: sampleData()}
	svc := NewService(store, &mockFeedStore{}, testLogger())

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf); err != nil {
		t.Fatalf("Export() がエラーを返しました: %v", err)
	}

	var doc map[string]struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("出力がJSONとして読めません: %v\n%s", err, buf.String())
	}

	feeds := doc["feeds"].Rows
	if len(feeds) != 1 {
		t.Fatalf("feeds の行数 = %d, want 1", len(feeds))
	}
	feed := feeds[0]
	if feed["id"] != "feed-1" {
		t.Errorf("feeds.id = %v, want feed-1", feed["id"])
	}
	if feed["skip_alert"] != float64(1) {
		t.Errorf("skip_alert = %v, want 1", feed["skip_alert"])
	}
	if feed["last_update"] != float64(updated.UnixMilli()) {
		t.Errorf("last_update = %v, want %d", feed["last_update"], updated.UnixMilli())
	}
	if feed["real_last_update"] != nil {
		t.Errorf("real_last_update = %v, want null", feed["real_last_update"])
	}
	icon, ok := feed["icon"].([]any)
	if !ok || len(icon) != 3 || icon[2] != float64(255) {
		t.Errorf("icon = %v, want [0 127 255]", feed["icon"])
	}

	entries := doc["entries"].Rows
	if len(entries) != 1 {
		t.Fatalf("entries の行数 = %d, want 1", len(entries))
	}
	if _, ok := entries[0]["id"]; ok {
		t.Error("主キー列 id がエクスポートされています")
	}
	if entries[0]["favorite"] != float64(0) {
		t.Errorf("favorite = %v, want 0", entries[0]["favorite"])
	}
}

func TestExport_ColumnOrder(t *testing.T) {
	store := &mockTableStore{data: sampleData()}
	svc := NewService(store, &mockFeedStore{}, testLogger())

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf); err != nil {
		t.Fatalf("Export() がエラーを返しました: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, `{"feeds":{"rows":[{"id":"feed-1","url":`) {
		t.Errorf("出力の先頭が期待と異なります: %s", out[:80])
	}
	if strings.Index(out, `"feeds"`) > strings.Index(out, `"entries"`) {
		t.Error("テーブルの順序が定義順ではありません")
	}
}

func TestExport_EmptyTables(t *testing.T) {
	svc := NewService(&mockTableStore{}, &mockFeedStore{}, testLogger())

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf); err != nil {
		t.Fatalf("Export() がエラーを返しました: %v", err)
	}
	want := `{"feeds":{"rows":[]},"entries":{"rows":[]}}`
	if buf.String() != want {
		t.Errorf("Export() = %s, want %s", buf.String(), want)
	}
}

func TestExport_ReadError(t *testing.T) {
	store := &mockTableStore{readErr: errors.New("db down")}
	svc := NewService(store, &mockFeedStore{}, testLogger())

	var buf bytes.Buffer
	if err := svc.Export(context.Background(), &buf); err == nil {
		t.Fatal("Export() がエラーを返しませんでした")
	}
	if buf.Len() != 0 {
		t.Errorf("エラー時に出力があります: %s", buf.String())
	}
}

// --- Import のテスト ---

func TestImport_RoundTrip(t *testing.T) {
	src := &mockTableStore{data: sampleData()}
	var buf bytes.Buffer
	if err := NewService(src, &mockFeedStore{}, testLogger()).Export(context.Background(), &buf); err != nil {
		t.Fatalf("Export() がエラーを返しました: %v", err)
	}

	dst := &mockTableStore{}
	if err := NewService(dst, &mockFeedStore{}, testLogger()).Import(context.Background(), &buf); err != nil {
		t.Fatalf("Import() がエラーを返しました: %v", err)
	}
	if dst.replaceCall != 1 {
		t.Fatalf("ReplaceAll の呼び出し回数 = %d, want 1", dst.replaceCall)
	}

	feed := dst.replaced["feeds"][0]
	if feed["id"] != "feed-1" || feed["url"] != "https://example.com/rss.xml" {
		t.Errorf("feeds の行が一致しません: %v", feed)
	}
	if feed["skip_alert"] != true {
		t.Errorf("skip_alert = %v, want true", feed["skip_alert"])
	}
	if feed["fetch_mode"] != int64(1) {
		t.Errorf("fetch_mode = %v, want 1", feed["fetch_mode"])
	}
	if !bytes.Equal(feed["icon"].([]byte), []byte{0x00, 0x7f, 0xff}) {
		t.Errorf("icon = %v", feed["icon"])
	}
	if got := feed["last_update"].(*time.Time); !got.Equal(updated) {
		t.Errorf("last_update = %v, want %v", got, updated)
	}
	if feed["real_last_update"] != nil {
		t.Errorf("real_last_update = %v, want nil", feed["real_last_update"])
	}

	entry := dst.replaced["entries"][0]
	if _, ok := entry["id"]; ok {
		t.Error("主キー列 id が復元データに含まれています")
	}
	if entry["title"] != "記事" || entry["favorite"] != false {
		t.Errorf("entries の行が一致しません: %v", entry)
	}
}

func TestImport_InvalidDoesNotWrite(t *testing.T) {
	store := &mockTableStore{}
	svc := NewService(store, &mockFeedStore{}, testLogger())

	err := svc.Import(context.Background(), strings.NewReader(`{"feeds":{"rows":[]}}`))
	var importErr *model.ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("Import() のエラー = %v, want *model.ImportError", err)
	}
	if importErr.Table != "entries" {
		t.Errorf("Table = %q, want entries", importErr.Table)
	}
	if store.replaceCall != 0 {
		t.Error("検証エラー時に ReplaceAll が呼ばれました")
	}
}

// --- Decode のテスト ---

// feedsRow は検証用の正しいfeeds行を返す。overridesで列の値を差し替え、extraを末尾に追加する。
func feedsRow(overrides map[string]string, extra string) string {
	cols := map[string]string{
		"id": `"f1"`, "url": `"https://a.example/rss"`, "name": `"A"`, "homepage": `""`,
		"icon": `null`, "last_update": `null`, "real_last_update": `null`,
		"fetch_mode": `0`, "error": `""`, "image_pattern": `""`, "skip_alert": `0`,
		"created_at": `0`, "updated_at": `0`,
	}
	for k, v := range overrides {
		cols[k] = v
	}
	var parts []string
	for _, name := range FeedsTable.ColumnNames() {
		parts = append(parts, `"`+name+`":`+cols[name])
	}
	return "{" + strings.Join(parts, ",") + extra + "}"
}

func doc(feedRows string) string {
	return `{"feeds":{"rows":[` + feedRows + `]},"entries":{"rows":[]}}`
}

func TestDecode_Valid(t *testing.T) {
	input := doc(feedsRow(map[string]string{
		"icon":       `[-1,0,255]`,
		"skip_alert": `true`,
		"created_at": `1704067200000`,
	}, ""))
	rows, err := Decode(strings.NewReader(input), Tables)
	if err != nil {
		t.Fatalf("Decode() がエラーを返しました: %v", err)
	}
	if len(rows["feeds"]) != 1 || len(rows["entries"]) != 0 {
		t.Fatalf("行数が一致しません: feeds=%d entries=%d", len(rows["feeds"]), len(rows["entries"]))
	}
	row := rows["feeds"][0]
	if row["skip_alert"] != true {
		t.Errorf("skip_alert = %v, want true", row["skip_alert"])
	}
	if !bytes.Equal(row["icon"].([]byte), []byte{0xff, 0x00, 0xff}) {
		t.Errorf("icon = %v, want [255 0 255]", row["icon"])
	}
	if got := row["created_at"].(*time.Time); !got.Equal(created) {
		t.Errorf("created_at = %v, want %v", got, created)
	}
}

func TestDecode_Errors(t *testing.T) {
	with := func(column, value string) string {
		return doc(feedsRow(map[string]string{column: value}, ""))
	}

	tests := []struct {
		name  string
		input string
	}{
		{name: "JSONではない", input: `{"feeds":`},
		{name: "ルートが配列", input: `[]`},
		{name: "テーブルがない", input: `{"entries":{"rows":[]}}`},
		{name: "テーブルがnull", input: `{"feeds":null,"entries":{"rows":[]}}`},
		{name: "テーブルがオブジェクトではない", input: `{"feeds":[],"entries":{"rows":[]}}`},
		{name: "rowsがない", input: `{"feeds":{},"entries":{"rows":[]}}`},
		{name: "rowsが配列ではない", input: `{"feeds":{"rows":{}},"entries":{"rows":[]}}`},
		{name: "行がオブジェクトではない", input: doc(`1`)},
		{name: "未知の列", input: doc(feedsRow(nil, `,"extra":1`))},
		{name: "列が足りない", input: doc(`{"url":"https://a.example/rss"}`)},
		{name: "主キー列は未知の列", input: `{"feeds":{"rows":[]},"entries":{"rows":[{"id":"e1"}]}}`},
		{name: "nullを許さない列にnull", input: with("name", "null")},
		{name: "文字列の列に数値", input: with("name", "1")},
		{name: "7ビット整数の範囲外", input: with("fetch_mode", "128")},
		{name: "負の7ビット整数", input: with("fetch_mode", "-1")},
		{name: "整数に小数", input: with("fetch_mode", "1.5")},
		{name: "整数に文字列", input: with("fetch_mode", `"1"`)},
		{name: "真偽値に文字列", input: with("skip_alert", `"true"`)},
		{name: "日時に文字列", input: with("created_at", `"2024-01-01"`)},
		{name: "バイナリが配列ではない", input: with("icon", `"AAE="`)},
		{name: "バイト値が範囲外", input: with("icon", `[256]`)},
		{name: "バイト値が負に範囲外", input: with("icon", `[-129]`)},
		{name: "URLが重複", input: doc(feedsRow(nil, "") + "," + feedsRow(map[string]string{"id": `"f2"`}, ""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), Tables)
			var importErr *model.ImportError
			if !errors.As(err, &importErr) {
				t.Fatalf("Decode() のエラー = %v, want *model.ImportError", err)
			}
		})
	}
}
