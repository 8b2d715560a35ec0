package feedparser

import (
	"strings"
	"time"
)

// updatedLayouts は<updated>や<dc:date>の日付形式。末尾のZはGMTに置き換えてから照合する。
var updatedLayouts = []string{
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05MST",
	"2006-01-02T15:04:05.999999999MST",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-0700",
}

// pubDateLayouts は<pubDate>や<lastBuildDate>の日付形式。
var pubDateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// timezoneReplacer は標準外のタイムゾーン略称を固定オフセットに置き換える。MESTはESTより先に置き換える。
var timezoneReplacer = strings.NewReplacer(
	"MEST", "+0200",
	"EST", "-0500",
	"PST", "-0800",
)

// ParseUpdatedDate はISO 8601形式の日付を解析する。
// どの形式にも一致しない場合は false を返す。
func ParseUpdatedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "GMT"
	}
	return parseFirst(updatedLayouts, s)
}

// ParsePubDate はRFC 822形式の日付を解析する。
// 連続する空白をまとめ、既知のタイムゾーン略称をオフセットに置き換えてから照合する。
func ParsePubDate(s string) (time.Time, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "  ", " ")
	s = timezoneReplacer.Replace(s)
	return parseFirst(pubDateLayouts, s)
}

func parseFirst(layouts []string, s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
