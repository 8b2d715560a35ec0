package repository

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/groboclown/GroboRSS/internal/model"
)

// PostgresTableRepoはTableRepositoryインターフェースを満たすことを検証
func TestPostgresTableRepo_ImplementsInterface(t *testing.T) {
	var _ TableRepository = (*PostgresTableRepo)(nil)
}

func TestScanTargetAndValue(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		typ    model.ColumnType
		assign func(any)
		want   any
	}{
		{"テキスト", model.ColumnText, func(v any) { *v.(*sql.NullString) = sql.NullString{String: "a", Valid: true} }, "a"},
		{"NULLのテキスト", model.ColumnUniqueText, func(v any) {}, nil},
		{"整数", model.ColumnInt, func(v any) { *v.(*sql.NullInt64) = sql.NullInt64{Int64: 5, Valid: true} }, int64(5)},
		{"7ビット整数", model.ColumnInt7, func(v any) { *v.(*sql.NullInt64) = sql.NullInt64{Int64: 2, Valid: true} }, int64(2)},
		{"真偽値", model.ColumnBoolean, func(v any) { *v.(*sql.NullBool) = sql.NullBool{Bool: true, Valid: true} }, true},
		{"日時", model.ColumnDatetime, func(v any) { *v.(*sql.NullTime) = sql.NullTime{Time: date, Valid: true} }, &date},
		{"NULLの日時", model.ColumnDatetime, func(v any) {}, (*time.Time)(nil)},
		{"バイナリ", model.ColumnBlob, func(v any) { *v.(*[]byte) = []byte{1, 2} }, []byte{1, 2}},
		{"NULLのバイナリ", model.ColumnBlob, func(v any) {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := scanTarget(tt.typ)
			tt.assign(target)
			got := scannedValue(target)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("scannedValue = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCopyValue(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	pk := model.Column{Name: "id", Type: model.ColumnPrimaryKey}
	if got := copyValue(pk, "keep"); got != "keep" {
		t.Errorf("既存の主キーは維持されるべき: %v", got)
	}
	generated, ok := copyValue(pk, nil).(string)
	if !ok || generated == "" {
		t.Errorf("主キーが採番されるべき: %#v", generated)
	}

	dt := model.Column{Name: "date", Type: model.ColumnDatetime, Nullable: true}
	if got := copyValue(dt, &date); got != date {
		t.Errorf("日時 = %#v, want %#v", got, date)
	}
	if got := copyValue(dt, (*time.Time)(nil)); got != nil {
		t.Errorf("nilの日時 = %#v, want nil", got)
	}

	text := model.Column{Name: "title", Type: model.ColumnText}
	if got := copyValue(text, "x"); got != "x" {
		t.Errorf("テキスト = %#v", got)
	}
}
