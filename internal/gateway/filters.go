package gateway

import (
	"errors"
	"strconv"
	"time"

	"github.com/nao1215/marketgate/pkg/proxy"
	"github.com/nao1215/marketgate/pkg/ratelimit"
	"github.com/nao1215/marketgate/pkg/revocation"
	"github.com/nao1215/marketgate/pkg/token"
)

// checkRate はクライアント単位の流量制御を行う。
// 認証より前に実行し、署名検証に到達する前に過剰なリクエストを拒否する。
func (s *Server) checkRate(ex *Exchange) Result {
	ex.ClientKey = ratelimit.ClientKey(ex.Request(), s.opts.SubjectHeader)
	d := s.limiter.Admit(ex.ClientKey)
	if !d.Allowed {
		return ShortCircuit(rejectRateLimited(d.Limit, int64(d.RetryAfter/time.Second)))
	}
	h := ex.Context.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	ex.Stage = StageRateChecked
	return Continue()
}

// authenticate はBearerトークンを検証し、失効していないことを確認する。
// 公開ルートへのリクエストは検証を行わずに通過させる。
func (s *Server) authenticate(ex *Exchange) Result {
	if rt, ok := s.routes.Resolve(ex.Request().URL.Path); ok {
		ex.Route, ex.routed = rt, true
		if rt.Public {
			ex.Stage = StagePublicBypass
			return Continue()
		}
	}

	raw := token.ParseBearer(ex.Context.GetHeader("Authorization"))
	if raw == "" {
		return ShortCircuit(rejectMissingToken())
	}
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return ShortCircuit(rejectToken(err))
	}

	revoked, err := s.revocations.IsRevoked(ex.Request().Context(), revocation.Key(raw))
	if err != nil {
		s.log.Error().Err(err).Str("request_id", ex.RequestID()).Msg("失効状態の確認に失敗")
		return ShortCircuit(rejectInternal())
	}
	if revoked {
		return ShortCircuit(rejectRevoked())
	}

	ex.Token = raw
	ex.Claims = &claims
	ex.Stage = StageAuthenticated
	return Continue()
}

// resolveRoute はリクエストパスに対応するルートを決定する。
func (s *Server) resolveRoute(ex *Exchange) Result {
	if !ex.routed {
		rt, ok := s.routes.Resolve(ex.Request().URL.Path)
		if !ok {
			return ShortCircuit(rejectNotFound())
		}
		ex.Route, ex.routed = rt, true
	}
	ex.Stage = StageRouted
	return Continue()
}

// authorize はルートが要求するロールをトークンが持っているかを確認する。
func (s *Server) authorize(ex *Exchange) Result {
	if ex.Route.RequiredRole == "" {
		return Continue()
	}
	if ex.Claims == nil || ex.Claims.String(claimRole) != ex.Route.RequiredRole {
		return ShortCircuit(rejectForbidden())
	}
	return Continue()
}

// forward はリクエストを上流サービスへ転送する。
func (s *Server) forward(ex *Exchange) Result {
	var id *proxy.Identity
	if ex.Claims != nil {
		id = &proxy.Identity{
			Subject: ex.Claims.Subject,
			Email:   ex.Claims.String(claimEmail),
			Role:    ex.Claims.String(claimRole),
		}
	}

	start := time.Now()
	err := s.forwarder.Forward(ex.Context.Writer, ex.Request(), ex.Route, id)
	s.metrics.observeUpstream(ex.Route.Pattern, err, time.Since(start))
	if errors.Is(err, proxy.ErrClientCanceled) {
		return abandon()
	}
	if err != nil {
		return ShortCircuit(rejectUpstream(err))
	}
	// 上流が空ボディを返した場合にGinが既定の404本文を書き足さないよう確定させる
	ex.Context.Writer.WriteHeaderNow()
	ex.Stage = StageForwarded
	return Continue()
}
