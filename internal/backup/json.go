package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

// TableStore はテーブル単位の読み書き。repository.TableRepositoryが満たす。
type TableStore interface {
	ReadAll(ctx context.Context, table model.Table) ([]model.Row, error)
	ReplaceAll(ctx context.Context, tables []model.Table, rows map[string][]model.Row) error
}

// FeedStore はOPMLの入出力に使うフィードの操作。repository.FeedRepositoryが満たす。
type FeedStore interface {
	List(ctx context.Context) ([]*model.Feed, error)
	FindByURL(ctx context.Context, feedURL string) (*model.Feed, error)
	Create(ctx context.Context, feed *model.Feed) error
}

// Service はバックアップの入出力を行う。
type Service struct {
	tables TableStore
	feeds  FeedStore
	schema []model.Table
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(tables TableStore, feeds FeedStore, logger *slog.Logger) *Service {
	return &Service{tables: tables, feeds: feeds, schema: Tables, logger: logger}
}

// Export は全テーブルを {"テーブル名": {"rows": [...]}} 形式のJSONで書き出す。
// 主キー列は出力しない。真偽値は0/1、日時はエポックミリ秒、バイナリはバイト値の配列で表す。
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, table := range s.schema {
		rows, err := s.tables.ReadAll(ctx, table)
		if err != nil {
			return fmt.Errorf("%s テーブルのエクスポートに失敗: %w", table.Name, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(table.Name)
		buf.Write(name)
		buf.WriteString(`:{"rows":[`)
		for j, row := range rows {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeRow(&buf, table, row); err != nil {
				return fmt.Errorf("%s テーブルのエクスポートに失敗: %w", table.Name, err)
			}
		}
		buf.WriteString("]}")

		s.logger.Debug("テーブルをエクスポートしました",
			slog.String("table", table.Name),
			slog.Int("rows", len(rows)),
		)
	}
	buf.WriteByte('}')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("バックアップの書き込みに失敗: %w", err)
	}
	return nil
}

// writeRow は1行を列の定義順にJSONオブジェクトとして書き出す。
func writeRow(buf *bytes.Buffer, table model.Table, row model.Row) error {
	buf.WriteByte('{')
	first := true
	for _, c := range table.Columns {
		if c.Type == model.ColumnPrimaryKey {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, _ := json.Marshal(c.Name)
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(exportValue(row[c.Name]))
		if err != nil {
			return fmt.Errorf("%s 列の変換に失敗: %w", c.Name, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return nil
}

// exportValue は行の値をJSONで表す値に変換する。
func exportValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return 1
		}
		return 0
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UnixMilli()
	case time.Time:
		return x.UnixMilli()
	case []byte:
		// []byteのままではbase64になるため、バイト値の配列にする
		values := make([]int, len(x))
		for i, b := range x {
			values[i] = int(b)
		}
		return values
	default:
		return v
	}
}

// Import はJSONバックアップを検証し、問題がなければ全テーブルの内容を置き換える。
// 検証はすべての行について書き込みの前に行い、1つでも不正があれば何も変更しない。
func (s *Service) Import(ctx context.Context, r io.Reader) error {
	rows, err := Decode(r, s.schema)
	if err != nil {
		return err
	}
	if err := s.tables.ReplaceAll(ctx, s.schema, rows); err != nil {
		return fmt.Errorf("バックアップの復元に失敗: %w", err)
	}
	for _, table := range s.schema {
		s.logger.Info("テーブルを復元しました",
			slog.String("table", table.Name),
			slog.Int("rows", len(rows[table.Name])),
		)
	}
	return nil
}

// Decode はJSONバックアップを読み取り、テーブル定義に従って検証した行を返す。
// 検証エラーは*model.ImportErrorで返す。
func Decode(r io.Reader, tables []model.Table) (map[string][]model.Row, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &model.ImportError{Reason: fmt.Sprintf("JSONとして読み取れません: %v", err)}
	}
	if doc == nil {
		return nil, &model.ImportError{Reason: "ルートがオブジェクトではありません"}
	}

	result := make(map[string][]model.Row, len(tables))
	for _, table := range tables {
		rows, err := decodeTable(doc, table)
		if err != nil {
			return nil, err
		}
		result[table.Name] = rows
	}
	return result, nil
}

func decodeTable(doc map[string]json.RawMessage, table model.Table) ([]model.Row, error) {
	fail := func(format string, args ...any) error {
		return &model.ImportError{Table: table.Name, Reason: fmt.Sprintf(format, args...)}
	}

	raw, ok := doc[table.Name]
	if !ok || isNull(raw) {
		return nil, fail("テーブルがありません")
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, fail("オブジェクトではありません")
	}
	rawRows, ok := body["rows"]
	if !ok || isNull(rawRows) {
		return nil, fail("rowsがありません")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawRows, &items); err != nil {
		return nil, fail("rowsが配列ではありません")
	}

	expected := map[string]model.Column{}
	for _, c := range table.Columns {
		if c.Type != model.ColumnPrimaryKey {
			expected[c.Name] = c
		}
	}
	seen := map[string]map[string]bool{}

	rows := make([]model.Row, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, fail("%d行目がオブジェクトではありません", i)
		}
		for key := range fields {
			if _, ok := expected[key]; !ok {
				return nil, fail("%d行目に未知の列 %s があります", i, key)
			}
		}
		var missing []string
		for name := range expected {
			if _, ok := fields[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fail("%d行目に列 %s がありません", i, strings.Join(missing, ", "))
		}

		row := make(model.Row, len(expected))
		for name, c := range expected {
			v, err := decodeValue(c, fields[name])
			if err != nil {
				return nil, fail("%d行目の列 %s: %v", i, name, err)
			}
			if s, ok := v.(string); ok && c.Type == model.ColumnUniqueText {
				if seen[name] == nil {
					seen[name] = map[string]bool{}
				}
				if seen[name][s] {
					return nil, fail("%d行目の列 %s の値 %q が重複しています", i, name, s)
				}
				seen[name][s] = true
			}
			row[name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeValue は列の型に従ってJSONの値を行の値に変換する。
func decodeValue(c model.Column, raw json.RawMessage) (any, error) {
	if isNull(raw) {
		if c.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("nullは指定できません")
	}

	switch c.Type {
	case model.ColumnText, model.ColumnUniqueText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("文字列ではありません")
		}
		return s, nil

	case model.ColumnInt, model.ColumnInt7:
		n, err := decodeInt(raw)
		if err != nil {
			return nil, err
		}
		if c.Type == model.ColumnInt7 && (n < 0 || n > 127) {
			return nil, fmt.Errorf("7ビット整数の範囲外です: %d", n)
		}
		return n, nil

	case model.ColumnBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, nil
		}
		n, err := decodeInt(raw)
		if err != nil {
			return nil, fmt.Errorf("真偽値ではありません")
		}
		return n != 0, nil

	case model.ColumnDatetime:
		n, err := decodeInt(raw)
		if err != nil {
			return nil, fmt.Errorf("日時（エポックミリ秒）ではありません")
		}
		t := time.UnixMilli(n).UTC()
		return &t, nil

	case model.ColumnBlob:
		var values []json.RawMessage
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("バイト値の配列ではありません")
		}
		b := make([]byte, len(values))
		for i, v := range values {
			n, err := decodeInt(v)
			if err != nil || n < math.MinInt8 || n > math.MaxUint8 {
				return nil, fmt.Errorf("%d番目のバイト値が不正です: %s", i, v)
			}
			b[i] = byte(n)
		}
		return b, nil
	}
	return nil, fmt.Errorf("未対応の列の型です: %s", c.Type)
}

// decodeInt はJSONの数値を整数として読み取る。文字列の数値は受け付けない。
func decodeInt(raw json.RawMessage) (int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return 0, fmt.Errorf("整数ではありません")
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return 0, fmt.Errorf("整数ではありません")
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("整数ではありません: %s", num)
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}
