package ingest

import (
	"net/url"
	"strings"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) でエラーが発生: %v", raw, err)
	}
	return u
}

// --- ParseFeedLinks のテスト ---

func TestParseFeedLinks(t *testing.T) {
	base := mustURL(t, "https://example.com/blog/index.html")

	tests := []struct {
		name string
		html string
		want []FeedCandidate
	}{
		{
			name: "RSSとAtom",
			html: `<html><head>
<link rel="alternate" type="application/rss+xml" href="/rss.xml" title="RSS">
<link rel="alternate" type="application/atom+xml" href="atom.xml">
</head><body></body></html>`,
			want: []FeedCandidate{
				{URL: "https://example.com/rss.xml", FeedType: FeedTypeRSS, Title: "RSS"},
				{URL: "https://example.com/blog/atom.xml", FeedType: FeedTypeAtom},
			},
		},
		{
			name: "引用符なしの属性とエンティティ",
			html: `<head><link rel=alternate type=application/rss+xml href="/feed?a=1&amp;b=2"></head>`,
			want: []FeedCandidate{
				{URL: "https://example.com/feed?a=1&b=2", FeedType: FeedTypeRSS},
			},
		},
		{
			name: "フィード以外のalternateとstylesheetは無視",
			html: `<head>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" hreflang="en" href="/en/">
<link rel="alternate" type="application/rss+xml" href="">
</head>`,
			want: nil,
		},
		{
			name: "body以降は走査しない",
			html: `<html><head></head><body>
<link rel="alternate" type="application/rss+xml" href="/rss.xml">
</body></html>`,
			want: nil,
		},
		{
			name: "絶対URL",
			html: `<head><link rel="alternate" type="application/rdf+xml" href="http://other.example.org/index.rdf"></head>`,
			want: []FeedCandidate{
				{URL: "http://other.example.org/index.rdf", FeedType: FeedTypeRDF},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFeedLinks(strings.NewReader(tt.html), base)
			if len(got) != len(tt.want) {
				t.Fatalf("候補数 = %d, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("候補[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// --- SelectBestFeed のテスト ---

func TestSelectBestFeed(t *testing.T) {
	page := mustURL(t, "https://example.com/")

	tests := []struct {
		name       string
		candidates []FeedCandidate
		wantURL    string
	}{
		{"候補なし", nil, ""},
		{
			"同一ホストを優先",
			[]FeedCandidate{
				{URL: "https://feeds.other.com/atom", FeedType: FeedTypeAtom},
				{URL: "https://example.com/rss", FeedType: FeedTypeRSS},
			},
			"https://example.com/rss",
		},
		{
			"同一ホスト内ではAtomを優先",
			[]FeedCandidate{
				{URL: "https://example.com/rss", FeedType: FeedTypeRSS},
				{URL: "https://example.com/atom", FeedType: FeedTypeAtom},
			},
			"https://example.com/atom",
		},
		{
			"同じ優先度なら先頭",
			[]FeedCandidate{
				{URL: "https://example.com/rss1", FeedType: FeedTypeRSS},
				{URL: "https://example.com/rss2", FeedType: FeedTypeRSS},
			},
			"https://example.com/rss1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectBestFeed(tt.candidates, page)
			if tt.wantURL == "" {
				if got != nil {
					t.Errorf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || got.URL != tt.wantURL {
				t.Errorf("got %+v, want %s", got, tt.wantURL)
			}
		})
	}
}

// --- LooksLikeFeed のテスト ---

func TestLooksLikeFeed(t *testing.T) {
	tests := []struct {
		name string
		head string
		want bool
	}{
		{"RSS", `<?xml version="1.0"?><rss version="2.0"><channel>`, true},
		{"Atom", `<feed xmlns="http://www.w3.org/2005/Atom"><title>`, true},
		{"RDF", `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">`, true},
		{"HTML", `<!DOCTYPE html><html><head><title>x</title>`, false},
		{"空", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeFeed([]byte(tt.head)); got != tt.want {
				t.Errorf("LooksLikeFeed() = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- isImageMime のテスト ---

func TestIsImageMime(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/x-icon", true},
		{"image/png; charset=binary", true},
		{"application/octet-stream", true},
		{"text/html; charset=UTF-8", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isImageMime(tt.contentType); got != tt.want {
			t.Errorf("isImageMime(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
