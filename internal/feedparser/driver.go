package feedparser

import (
	"context"
	"fmt"
	"io"

	xpp "github.com/mmcdole/goxpp"
)

// Drive はrからXMLを読み、開始タグ・文字列・終了タグのイベントをhに渡す。
// rはUTF-8にデコード済みであること。XML宣言のencodingは無視する。
// hが完了または打ち切りの状態になった後に発生した読み取りエラーは無視する。
func Drive(ctx context.Context, r io.Reader, h *Handler) error {
	p := xpp.NewXMLPullParser(r, false, passThroughCharset)

	// 終了タグでは名前空間が失われるため、開始時の名前を積んでおく
	var stack []Name
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		event, err := p.NextToken()
		if err != nil {
			if h.Done() || h.Cancelled() {
				return nil
			}
			return fmt.Errorf("XMLの解析に失敗: %w", err)
		}

		switch event {
		case xpp.StartTag:
			name := Name{Space: p.Space, Prefix: prefixOf(p), Local: p.Name}
			stack = append(stack, name)
			err = h.StartElement(ctx, name, p.Attrs)
		case xpp.EndTag:
			name := Name{Local: p.Name}
			if n := len(stack); n > 0 {
				name = stack[n-1]
				stack = stack[:n-1]
			}
			err = h.EndElement(ctx, name)
		case xpp.Text:
			h.Characters(p.Text)
		case xpp.EndDocument:
			return nil
		}
		if err != nil {
			return err
		}
		if h.Cancelled() {
			return nil
		}
	}
}

// prefixOf は現在の要素の名前空間URIに対応する接頭辞を返す。
// 宣言されていない接頭辞はデコーダがそのまま名前空間として渡すため、それを接頭辞とみなす。
func prefixOf(p *xpp.XMLPullParser) string {
	if p.Space == "" {
		return ""
	}
	if prefix, ok := p.Spaces[p.Space]; ok {
		return prefix
	}
	return p.Space
}

func passThroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}
