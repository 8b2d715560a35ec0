package model

// ColumnType はJSONバックアップで扱う列の型。
type ColumnType string

// 列の型。primary-keyはエクスポートせず、インポート時に採番する。
const (
	ColumnPrimaryKey ColumnType = "primary-key"
	ColumnText       ColumnType = "text"
	ColumnUniqueText ColumnType = "unique-text"
	ColumnInt        ColumnType = "integer"
	ColumnInt7       ColumnType = "7-bit integer"
	ColumnBoolean    ColumnType = "boolean"
	ColumnDatetime   ColumnType = "datetime"
	ColumnBlob       ColumnType = "blob"
)

// Column はテーブルの列定義。
type Column struct {
	Name string
	Type ColumnType
	// Nullable がtrueの列はJSONのnullを受け付ける。
	Nullable bool
}

// Table はバックアップ対象のテーブル定義。Columnsの順序でエクスポートする。
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames は列名を定義順で返す。
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey は主キー列の名前を返す。主キー列がない場合は空文字列。
func (t Table) PrimaryKey() string {
	for _, c := range t.Columns {
		if c.Type == ColumnPrimaryKey {
			return c.Name
		}
	}
	return ""
}

// Row は1行分の値。値の型は列の型に応じて
// string、int64、bool、*time.Time、[]byte のいずれか（nullはnil）。
type Row map[string]any
