package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/marketgate/pkg/route"
)

// 上流サービスへ伝播する識別ヘッダー。
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

// DefaultTimeout は上流サービス呼び出しのデフォルトタイムアウト。
const DefaultTimeout = 30 * time.Second

var (
	// ErrUpstreamUnavailable は上流サービスに接続できなかったことを表す。
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	// ErrUpstreamTimeout は上流サービスが制限時間内に応答しなかったことを表す。
	ErrUpstreamTimeout = errors.New("upstream_timeout")
	// ErrClientCanceled はクライアントが応答を待たずに切断したことを表す。
	// この場合は応答を書き込まない。
	ErrClientCanceled = errors.New("client_canceled")
)

// Identity は検証済みトークンから得た呼び出し元の情報。
type Identity struct {
	// Subject はトークンのsubject（会員ID）。
	Subject string
	// Email は会員のメールアドレス。空なら伝播しない。
	Email string
	// Role は会員のロール。空なら伝播しない。
	Role string
}

// Config はForwarderの設定。
type Config struct {
	// Timeout は1回の転送にかける上限時間。0以下ならDefaultTimeoutを使う。
	Timeout time.Duration
	// ForwardAuthorization がtrueならAuthorizationヘッダーを上流へそのまま渡す。
	ForwardAuthorization bool
	// Transport は上流への通信に使うRoundTripper。nilならhttp.DefaultTransportを使う。
	Transport http.RoundTripper
}

// Forwarder はリクエストを上流サービスへ転送する。
type Forwarder struct {
	cfg Config
	log zerolog.Logger
}

// New は新しいForwarderを生成する。
func New(cfg Config, log zerolog.Logger) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	return &Forwarder{cfg: cfg, log: log}
}

// Forward はリクエストをrtの上流サービスへ転送し、応答をwへ書き込む。
// 転送先のURLは上流のベースURLにリクエストパスを連結したもので、
// パス（%2Fなどのエンコードを含む）とクエリとボディはそのまま渡す。
// "."や".."のセグメントを含むパスのみ正規化してから連結する。
// 上流に到達できなかった場合はwへ何も書き込まずに番兵エラーを返す。
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, rt route.Route, id *Identity) error {
	if rt.Upstream == nil {
		return ErrUpstreamUnavailable
	}

	inbound := r.Context()
	ctx, cancel := context.WithTimeout(inbound, f.cfg.Timeout)
	defer cancel()

	var forwardErr error
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// ドットセグメントを含むパスだけは解決済みのルートと一致するよう正規化し、
			// それ以外はエンコードを含めてそのまま渡す
			if hasDotSegment(pr.In.URL.Path) {
				pr.Out.URL.Path = forwardPath(pr.In.URL.Path)
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(rt.Upstream)
			pr.SetXForwarded()
			pr.Out.Host = rt.Upstream.Host

			// クライアントが送ってきた識別ヘッダーは信用しない
			pr.Out.Header.Del(HeaderUserID)
			pr.Out.Header.Del(HeaderUserEmail)
			pr.Out.Header.Del(HeaderUserRole)
			if id != nil {
				setIfPresent(pr.Out.Header, HeaderUserID, id.Subject)
				setIfPresent(pr.Out.Header, HeaderUserEmail, id.Email)
				setIfPresent(pr.Out.Header, HeaderUserRole, id.Role)
			}
			if !f.cfg.ForwardAuthorization {
				pr.Out.Header.Del("Authorization")
			}
		},
		Transport: f.cfg.Transport,
		ErrorHandler: func(_ http.ResponseWriter, req *http.Request, err error) {
			forwardErr = classify(inbound, ctx, err)
			if !errors.Is(forwardErr, ErrClientCanceled) {
				f.log.Warn().
					Err(err).
					Str("upstream", rt.Upstream.Redacted()).
					Str("path", req.URL.Path).
					Str("request_id", req.Header.Get(HeaderRequestID)).
					Msg("上流サービスへの転送に失敗")
			}
		},
	}
	rp.ServeHTTP(w, r.WithContext(ctx))
	return forwardErr
}

// hasDotSegment はパスに"."または".."のセグメントが含まれるかを返す。
func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// forwardPath はリクエストパスを正規化する。末尾のスラッシュは保持する。
func forwardPath(p string) string {
	cleaned := route.CleanPath(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// classify は転送エラーを番兵エラーに変換する。
func classify(inbound, outbound context.Context, err error) error {
	if errors.Is(inbound.Err(), context.Canceled) {
		return ErrClientCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(outbound.Err(), context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamUnavailable
}

func setIfPresent(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
