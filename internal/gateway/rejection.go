package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/marketgate/pkg/proxy"
	"github.com/nao1215/marketgate/pkg/token"
)

// エラー応答のコード。クライアントが分岐に使うため変更しない。
const (
	CodeMissingToken        = "missing_token"
	CodeMalformedToken      = "malformed_token"
	CodeInvalidSignature    = "invalid_signature"
	CodeExpiredToken        = "expired_token"
	CodeRevokedToken        = "revoked_token"
	CodeRateLimited         = "rate_limited"
	CodeRouteNotFound       = "route_not_found"
	CodeInsufficientRole    = "insufficient_role"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeInternal            = "internal_error"
)

// Rejection はパイプラインを終了させるエラー応答。
type Rejection struct {
	// Status はHTTPステータスコード。
	Status int
	// Code は機械可読なエラーコード。
	Code string
	// Message は利用者向けのメッセージ。内部情報は含めない。
	Message string
	// Stage は拒否後の終端状態。
	Stage Stage
	// Header は応答に追加するヘッダー。
	Header http.Header
}

// errorResponse はエラー応答のJSON表現。
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeRejection はエラー応答を書き込み、後続のハンドラを中断する。
func writeRejection(c *gin.Context, rej Rejection) {
	for k, vs := range rej.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.AbortWithStatusJSON(rej.Status, errorResponse{Error: rej.Code, Message: rej.Message})
}

func unauthenticated(code, message string) Rejection {
	return Rejection{
		Status:  http.StatusUnauthorized,
		Code:    code,
		Message: message,
		Stage:   StageRejectedUnauthenticated,
		Header:  http.Header{"Www-Authenticate": []string{`Bearer error="invalid_token"`}},
	}
}

func rejectMissingToken() Rejection {
	rej := unauthenticated(CodeMissingToken, "認証トークンが必要です")
	rej.Header.Set("Www-Authenticate", "Bearer")
	return rej
}

func rejectRevoked() Rejection {
	return unauthenticated(CodeRevokedToken, "トークンは失効しています")
}

// rejectToken はトークン検証エラーを応答に変換する。
func rejectToken(err error) Rejection {
	switch {
	case errors.Is(err, token.ErrExpired):
		return unauthenticated(CodeExpiredToken, "トークンの有効期限が切れています")
	case errors.Is(err, token.ErrInvalidSignature):
		return unauthenticated(CodeInvalidSignature, "トークンの署名が不正です")
	case errors.Is(err, token.ErrMalformed):
		return unauthenticated(CodeMalformedToken, "トークンの形式が不正です")
	default:
		return rejectInternal()
	}
}

func rejectRateLimited(limit int, retryAfter int64) Rejection {
	return Rejection{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimited,
		Message: "リクエストが多すぎます。しばらく待ってから再試行してください",
		Stage:   StageRejectedRateLimit,
		Header: http.Header{
			"Retry-After":           []string{strconv.FormatInt(retryAfter, 10)},
			"X-Ratelimit-Limit":     []string{strconv.Itoa(limit)},
			"X-Ratelimit-Remaining": []string{"0"},
		},
	}
}

func rejectNotFound() Rejection {
	return Rejection{
		Status:  http.StatusNotFound,
		Code:    CodeRouteNotFound,
		Message: "該当するルートがありません",
		Stage:   StageRejectedNotFound,
	}
}

func rejectForbidden() Rejection {
	return Rejection{
		Status:  http.StatusForbidden,
		Code:    CodeInsufficientRole,
		Message: "この操作を行う権限がありません",
		Stage:   StageRejectedForbidden,
	}
}

func rejectInternal() Rejection {
	return Rejection{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "内部サーバーエラーが発生しました",
		Stage:   StageRejectedInternal,
	}
}

// rejectUpstream は転送エラーを応答に変換する。
func rejectUpstream(err error) Rejection {
	if errors.Is(err, proxy.ErrUpstreamTimeout) {
		return Rejection{
			Status:  http.StatusGatewayTimeout,
			Code:    CodeUpstreamTimeout,
			Message: "内部サービスが時間内に応答しませんでした",
			Stage:   StageUpstreamFailed,
		}
	}
	return Rejection{
		Status:  http.StatusBadGateway,
		Code:    CodeUpstreamUnavailable,
		Message: "内部サービスとの通信に失敗しました",
		Stage:   StageUpstreamFailed,
	}
}
