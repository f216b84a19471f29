package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClientKey はクライアントを識別できない場合に全員で共有するバケットのキー。
// 設定ミスで識別できなくなった場合も、制限が緩むのではなく厳しくなる。
const UnknownClientKey = "unknown"

// ClientKey はリクエストから流量制御用のクライアントキーを決定する。
// subjectHeader（空なら無効）、X-Forwarded-Forの先頭、接続元アドレスの順に評価する。
func ClientKey(r *http.Request, subjectHeader string) string {
	if subjectHeader != "" {
		if subject := strings.TrimSpace(r.Header.Get(subjectHeader)); subject != "" {
			return "sub:" + subject
		}
	}

	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := normalizeIP(first); ip != "" {
			return "ip:" + ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := normalizeIP(host); ip != "" {
		return "ip:" + ip
	}

	return UnknownClientKey
}

// normalizeIP はIPアドレスとして解釈できる場合に正規化した文字列を返す。
func normalizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
