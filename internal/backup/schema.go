// Package backup はデータベース全体のJSONバックアップと、フィード一覧のOPML入出力を提供する。
package backup

import "github.com/groboclown/GroboRSS/internal/model"

// FeedsTable はfeedsテーブルの定義。
// 記事からの参照を保つため、フィードIDは主キーではなく一意な文字列として出力する。
var FeedsTable = model.Table{
	Name: "feeds",
	Columns: []model.Column{
		{Name: "id", Type: model.ColumnUniqueText},
		{Name: "url", Type: model.ColumnUniqueText},
		{Name: "name", Type: model.ColumnText},
		{Name: "homepage", Type: model.ColumnText},
		{Name: "icon", Type: model.ColumnBlob, Nullable: true},
		{Name: "last_update", Type: model.ColumnDatetime, Nullable: true},
		{Name: "real_last_update", Type: model.ColumnDatetime, Nullable: true},
		{Name: "fetch_mode", Type: model.ColumnInt7},
		{Name: "error", Type: model.ColumnText},
		{Name: "image_pattern", Type: model.ColumnText},
		{Name: "skip_alert", Type: model.ColumnBoolean},
		{Name: "created_at", Type: model.ColumnDatetime},
		{Name: "updated_at", Type: model.ColumnDatetime},
	},
}

// EntriesTable はentriesテーブルの定義。記事IDはインポート時に採番し直す。
var EntriesTable = model.Table{
	Name: "entries",
	Columns: []model.Column{
		{Name: "id", Type: model.ColumnPrimaryKey},
		{Name: "feed_id", Type: model.ColumnText},
		{Name: "title", Type: model.ColumnText},
		{Name: "link", Type: model.ColumnText},
		{Name: "description", Type: model.ColumnText},
		{Name: "author", Type: model.ColumnText},
		{Name: "enclosure", Type: model.ColumnText},
		{Name: "guid", Type: model.ColumnText},
		{Name: "date", Type: model.ColumnDatetime},
		{Name: "read_date", Type: model.ColumnDatetime, Nullable: true},
		{Name: "favorite", Type: model.ColumnBoolean},
		{Name: "created_at", Type: model.ColumnDatetime},
	},
}

// Tables はバックアップ対象のテーブル。参照される側のテーブルが先に並ぶ。
var Tables = []model.Table{FeedsTable, EntriesTable}
