package feedparser

import "testing"

// --- UnescapeTitle のテスト ---

func TestUnescapeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"そのまま", "Plain title", "Plain title"},
		{"二重エスケープのアンパサンド", "Tom &amp; Jerry", "Tom & Jerry"},
		{"タグの除去", "<b>Bold</b> title", "Bold title"},
		{"改行を含むタグ", "a<span\nclass=\"x\">b</span>", "ab"},
		{"主要な文字参照", "&lt;tag&gt; &quot;q&quot; it&#39;s", `<tag> "q" it's`},
		{"エスケープされたタグは残る", "&amp;lt;b&amp;gt;x", "<b>x"},
		{"数値文字参照", "caf&#233; &#x263A;", "café ☺"},
		{"数値文字参照があれば名前付き参照も戻す", "&#233; &copy;", "é ©"},
		{"数値文字参照がなければ他の参照は残す", "&copy; 2024", "&copy; 2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnescapeTitle(tt.input); got != tt.want {
				t.Errorf("UnescapeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
