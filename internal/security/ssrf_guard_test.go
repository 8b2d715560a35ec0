package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groboclown/GroboRSS/internal/httpfetch"
)

// compile-time interface check
var _ httpfetch.ClientProvider = (*SSRFGuard)(nil)

// TestNewSSRFGuard_DefaultPorts は既定のポートが設定されることをテストする。
func TestNewSSRFGuard_DefaultPorts(t *testing.T) {
	guard := NewSSRFGuard()
	if len(guard.ports) != 2 || guard.ports[0] != 80 || guard.ports[1] != 443 {
		t.Errorf("ports = %v, want [80 443]", guard.ports)
	}
	if custom := NewSSRFGuard(8080); len(custom.ports) != 1 || custom.ports[0] != 8080 {
		t.Errorf("ports = %v, want [8080]", custom.ports)
	}
}

// TestNewSafeClient はタイムアウトとTransportが設定されることをテストする。
func TestNewSafeClient(t *testing.T) {
	timeout := 5 * time.Second
	client := NewSSRFGuard().NewSafeClient(timeout, 1024)
	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("safeurlのTransportが設定されるべき")
	}
}

// TestNewSafeClientBlocksLoopback はループバックへの接続が拒否されることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5*time.Second, 1024)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// --- ValidateURL のテスト ---

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"公開URL", "https://example.com/feed.xml", false},
		{"httpの公開URL", "http://example.com/rss", false},
		{"ポート指定", "https://example.com:8443/rss", false},
		{"空文字列", "", true},
		{"不正なURL", "://bad", true},
		{"ftpスキーム", "ftp://example.com/feed", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"ホストなし", "http:///feed", true},
		{"プライベートIP 10系", "http://10.0.0.1/feed", true},
		{"プライベートIP 192.168系", "http://192.168.1.1/feed", true},
		{"ループバック", "http://127.0.0.1/feed", true},
		{"localhost", "http://localhost/feed", true},
		{"localhostのサブドメイン", "http://app.localhost/feed", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "http://[::1]/feed", true},
		{"ゼロアドレス", "http://0.0.0.0/feed", true},
		{"公開IP", "http://93.184.216.34/feed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
