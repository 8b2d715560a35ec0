package backup

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/groboclown/GroboRSS/internal/model"
)

const opmlTitle = "GroboRSS subscriptions"

type opmlDocument struct {
	XMLName xml.Name      `xml:"opml"`
	Version string        `xml:"version,attr"`
	Title   string        `xml:"head>title"`
	Body    []opmlOutline `xml:"body>outline"`
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr,omitempty"`
	Type     string        `xml:"type,attr,omitempty"`
	XMLURL   string        `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string        `xml:"htmlUrl,attr,omitempty"`
	Outlines []opmlOutline `xml:"outline"`
}

// ExportOPML は購読中のフィード一覧をOPML 1.1で書き出す。
func (s *Service) ExportOPML(ctx context.Context, w io.Writer) error {
	feeds, err := s.feeds.List(ctx)
	if err != nil {
		return fmt.Errorf("フィード一覧の取得に失敗: %w", err)
	}

	doc := opmlDocument{Version: "1.1", Title: opmlTitle}
	for _, f := range feeds {
		name := f.Name
		if name == "" {
			name = f.URL
		}
		doc.Body = append(doc.Body, opmlOutline{
			Text:    name,
			Title:   name,
			Type:    "rss",
			XMLURL:  f.URL,
			HTMLURL: f.Homepage,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("OPMLの書き込みに失敗: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("OPMLの書き込みに失敗: %w", err)
	}
	return nil
}

// ImportOPML はOPMLのアウトラインからフィードを登録し、新規に登録した件数を返す。
// 入れ子のアウトラインもたどる。登録済みのURLは読み飛ばす。
func (s *Service) ImportOPML(ctx context.Context, r io.Reader) (int, error) {
	var doc opmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return 0, &model.ImportError{Reason: fmt.Sprintf("OPMLとして読み取れません: %v", err)}
	}

	added := 0
	seen := map[string]bool{}
	var walk func(outlines []opmlOutline) error
	walk = func(outlines []opmlOutline) error {
		for _, o := range outlines {
			if err := walk(o.Outlines); err != nil {
				return err
			}
			feedURL := strings.TrimSpace(o.XMLURL)
			if feedURL == "" || seen[feedURL] {
				continue
			}
			seen[feedURL] = true

			existing, err := s.feeds.FindByURL(ctx, feedURL)
			if err != nil {
				return fmt.Errorf("フィードの検索に失敗: %w", err)
			}
			if existing != nil {
				continue
			}

			name := o.Title
			if name == "" {
				name = o.Text
			}
			feed := &model.Feed{
				URL:      feedURL,
				Name:     strings.TrimSpace(name),
				Homepage: strings.TrimSpace(o.HTMLURL),
			}
			if err := s.feeds.Create(ctx, feed); err != nil {
				return fmt.Errorf("フィードの登録に失敗: %w", err)
			}
			added++
			s.logger.Info("OPMLからフィードを登録しました",
				slog.String("feed_id", feed.ID),
				slog.String("url", feedURL),
			)
		}
		return nil
	}
	if err := walk(doc.Body); err != nil {
		return added, err
	}
	return added, nil
}
