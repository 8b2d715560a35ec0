package ingest

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// FeedType は<link rel="alternate">で宣言されたフィードの種類。
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
	FeedTypeRDF  FeedType = "rdf"
)

// FeedCandidate はHTMLのheadから検出したフィード候補。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

var linkFeedTypes = map[string]FeedType{
	"application/rss+xml":  FeedTypeRSS,
	"application/atom+xml": FeedTypeAtom,
	"application/rdf+xml":  FeedTypeRDF,
}

// LooksLikeFeed は本文の先頭がRSS/RDF/Atomのルート要素かどうかを返す。
// Content-Typeがtext/htmlでも中身がフィードのサーバーがあるため、HTMLとして扱う前に確認する。
func LooksLikeFeed(head []byte) bool {
	switch gofeed.DetectFeedType(bytes.NewReader(head)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
		return true
	}
	return false
}

// ParseFeedLinks はHTMLのheadからフィードへのリンクを検出する。
// bodyの開始またはheadの終了で走査を打ち切る。相対URLはbaseで解決する。
func ParseFeedLinks(r io.Reader, base *url.URL) []FeedCandidate {
	var candidates []FeedCandidate
	tokenizer := html.NewTokenizer(r)

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)
			if tagName == "body" {
				return candidates
			}
			if tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				v := string(val)
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(v)
				case "type":
					linkType = strings.ToLower(strings.TrimSpace(v))
				case "href":
					href = strings.TrimSpace(v)
				case "title":
					title = v
				}
				if !more {
					break
				}
			}

			if !hasToken(rel, "alternate") || href == "" {
				continue
			}
			feedType, ok := linkFeedTypes[linkType]
			if !ok {
				continue
			}
			resolved := resolveURL(base, href)
			if resolved == "" {
				continue
			}
			candidates = append(candidates, FeedCandidate{URL: resolved, FeedType: feedType, Title: title})

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "head" {
				return candidates
			}
		}
	}
}

// SelectBestFeed は候補から同一ホスト、Atom、出現順の優先度で1件を選ぶ。
func SelectBestFeed(candidates []FeedCandidate, pageURL *url.URL) *FeedCandidate {
	if len(candidates) == 0 {
		return nil
	}
	host := ""
	if pageURL != nil {
		host = strings.ToLower(pageURL.Hostname())
	}

	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if u, err := url.Parse(c.URL); err == nil && strings.ToLower(u.Hostname()) == host {
			score += 100
		}
		if c.FeedType == FeedTypeAtom {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return &candidates[bestIdx]
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
