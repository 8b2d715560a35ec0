package middleware

import "net/http"

// entryContentPolicy は記事本文のHTMLを返す応答に付与するCSP。
// スクリプトを禁止し、画像はキャッシュのfile URLと外部URLの両方を許可する。
const entryContentPolicy = "default-src 'none'; img-src * data: file:; style-src 'unsafe-inline'; sandbox"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// NewEntryContentPolicyMiddleware は記事本文のHTMLを返すルート用にContent-Security-Policyを付与する。
func NewEntryContentPolicyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", entryContentPolicy)
			next.ServeHTTP(w, r)
		})
	}
}
