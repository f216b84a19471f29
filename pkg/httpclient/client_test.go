package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// verifyRequest は会員サービスへ送る資格情報の検証リクエスト。
type verifyRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// verifyResponse は会員サービスが返す会員情報。
type verifyResponse struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const verifyPath = "/internal/credentials/verify"

// TestNew はクライアントの生成とオプションを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("既定のタイムアウトはDefaultTimeoutであること", func(t *testing.T) {
		t.Parallel()

		client := New("http://member:8081")
		if client.baseURL != "http://member:8081" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://member:8081")
		}
		if client.httpClient.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, DefaultTimeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://member:8081", WithTimeout(3*time.Second))
		if client.httpClient.Timeout != 3*time.Second {
			t.Errorf("Timeout = %v, want 3s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPostJSONの送受信を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("JSONボディを送信し応答をデコードできること", func(t *testing.T) {
		t.Parallel()

		var (
			gotMethod string
			gotPath   string
			gotHeader http.Header
			gotBody   verifyRequest
		)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod, gotPath, gotHeader = r.Method, r.URL.Path, r.Header.Clone()
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"member-1","role":"admin"}`))
		}))
		defer ts.Close()

		var got verifyResponse
		err := New(ts.URL).PostJSON(context.Background(), verifyPath, verifyRequest{Login: "alice", Password: "secret"}, &got)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if gotMethod != http.MethodPost || gotPath != verifyPath {
			t.Errorf("リクエスト = %s %s, want POST %s", gotMethod, gotPath, verifyPath)
		}
		if gotBody != (verifyRequest{Login: "alice", Password: "secret"}) {
			t.Errorf("送信ボディ = %+v", gotBody)
		}
		for _, h := range []string{"Content-Type", "Accept"} {
			if v := gotHeader.Get(h); v != "application/json" {
				t.Errorf("%s = %q, want application/json", h, v)
			}
		}
		if got != (verifyResponse{ID: "member-1", Role: "admin"}) {
			t.Errorf("応答 = %+v", got)
		}
	})

	t.Run("2xx以外の応答はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			status int
			body   string
			want   string
		}{
			{name: "資格情報の不一致", status: http.StatusUnauthorized, body: `{"error":"invalid_credentials"}`, want: `{"error":"invalid_credentials"}`},
			{name: "会員サービスの障害", status: http.StatusServiceUnavailable, body: "down", want: "down"},
			{name: "巨大なエラー本文は切り詰める", status: http.StatusInternalServerError, body: strings.Repeat("x", maxErrorBody+100), want: strings.Repeat("x", maxErrorBody)},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(tt.body))
				}))
				defer ts.Close()

				var got verifyResponse
				err := New(ts.URL).PostJSON(context.Background(), verifyPath, verifyRequest{Login: "alice"}, &got)
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("PostJSON() error = %v, want *StatusError", err)
				}
				if statusErr.StatusCode != tt.status {
					t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
				}
				if statusErr.Body != tt.want {
					t.Errorf("Body の長さ = %d, want %d", len(statusErr.Body), len(tt.want))
				}
			})
		}
	})

	t.Run("resultがnilなら応答本文を読まないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer ts.Close()

		if err := New(ts.URL).PostJSON(context.Background(), verifyPath, nil, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
	})

	t.Run("応答がJSONでなければエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("<html>"))
		}))
		defer ts.Close()

		var got verifyResponse
		if err := New(ts.URL).PostJSON(context.Background(), verifyPath, nil, &got); err == nil {
			t.Fatal("PostJSON()がエラーを返さなかった")
		}
	})

	t.Run("シリアライズできないボディはエラーになること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://member:8081").PostJSON(context.Background(), verifyPath, make(chan int), nil); err == nil {
			t.Fatal("PostJSON()がエラーを返さなかった")
		}
	})

	t.Run("キャンセル済みのコンテキストではエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := New(ts.URL).PostJSON(ctx, verifyPath, nil, nil); err == nil {
			t.Fatal("PostJSON()がエラーを返さなかった")
		}
	})

	t.Run("WithTimeoutを超えて応答しない接続先ではエラーになること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		start := time.Now()
		err := New(ts.URL, WithTimeout(50*time.Millisecond)).PostJSON(context.Background(), verifyPath, nil, nil)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返さなかった")
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("タイムアウトまでの時間 = %v", elapsed)
		}
	})
}

// TestWithRequestID はリクエストIDの伝播を検証する。
func TestWithRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "コンテキストのリクエストIDをX-Request-IDで送ること", ctx: WithRequestID(context.Background(), "req-123"), want: "req-123"},
		{name: "リクエストIDが無ければヘッダーを付けないこと", ctx: context.Background(), want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("X-Request-ID")
				w.Write([]byte(`{}`))
			}))
			defer ts.Close()

			if err := New(ts.URL).PostJSON(tt.ctx, verifyPath, nil, nil); err != nil {
				t.Fatalf("PostJSON()でエラーが発生: %v", err)
			}
			if got != tt.want {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.want)
			}
		})
	}
}
