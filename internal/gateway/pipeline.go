package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/marketgate/pkg/middleware"
	"github.com/nao1215/marketgate/pkg/route"
	"github.com/nao1215/marketgate/pkg/token"
)

// Stage はリクエストがパイプラインのどこまで進んだかを表す。
type Stage int

// パイプラインの状態。Rejected*と UpstreamFailed、Abandoned は終端状態。
const (
	StageReceived Stage = iota
	StageRateChecked
	StageAuthenticated
	StagePublicBypass
	StageRouted
	StageForwarded
	StageResponded
	StageRejectedRateLimit
	StageRejectedUnauthenticated
	StageRejectedForbidden
	StageRejectedNotFound
	StageRejectedInternal
	StageUpstreamFailed
	StageAbandoned
)

var stageNames = [...]string{
	StageReceived:                "received",
	StageRateChecked:             "rate_checked",
	StageAuthenticated:           "authenticated",
	StagePublicBypass:            "public_bypass",
	StageRouted:                  "routed",
	StageForwarded:               "forwarded",
	StageResponded:               "responded",
	StageRejectedRateLimit:       "rejected_rate_limit",
	StageRejectedUnauthenticated: "rejected_unauthenticated",
	StageRejectedForbidden:       "rejected_forbidden",
	StageRejectedNotFound:        "rejected_not_found",
	StageRejectedInternal:        "rejected_internal",
	StageUpstreamFailed:          "upstream_failed",
	StageAbandoned:               "abandoned",
}

// String はメトリクスのラベルに使う状態名を返す。
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Terminal は状態が終端かどうかを返す。
func (s Stage) Terminal() bool {
	return s >= StageResponded
}

// Exchange はパイプラインを通過する1リクエスト分の状態。
// 各リクエストが専用に持ち、他のリクエストと共有しない。
type Exchange struct {
	// Context はGinのリクエストコンテキスト。
	Context *gin.Context
	// Stage は現在の状態。
	Stage Stage
	// ClientKey は流量制御に使ったクライアントキー。
	ClientKey string
	// Token はAuthorizationヘッダーから取り出したトークン文字列。
	Token string
	// Claims は検証済みトークンのクレーム。公開ルートではnil。
	Claims *token.Claims
	// Route は解決済みのルート。
	Route route.Route
	// routed はRouteが解決済みかどうか。
	routed bool
	// start はパイプラインに入った時刻。
	start time.Time
}

// Request は受信したHTTPリクエストを返す。
func (ex *Exchange) Request() *http.Request {
	return ex.Context.Request
}

// RequestID はリクエストIDを返す。
func (ex *Exchange) RequestID() string {
	return middleware.GetRequestID(ex.Context)
}

// Result はフィルタの判定結果。
type Result struct {
	stop      bool
	rejection *Rejection
}

// Continue は次のフィルタへ進む結果を返す。
func Continue() Result {
	return Result{}
}

// ShortCircuit はrejを応答してパイプラインを終了する結果を返す。
func ShortCircuit(rej Rejection) Result {
	return Result{stop: true, rejection: &rej}
}

// abandon は何も応答せずにパイプラインを終了する結果を返す。
// クライアントが既に切断している場合に使う。
func abandon() Result {
	return Result{stop: true}
}

// Filter はパイプラインの1段。Exchangeを読み書きし、続行か終了かを返す。
type Filter func(*Exchange) Result

// Pipeline は順序付きのフィルタ列を実行する。
type Pipeline struct {
	filters []Filter
	metrics *metrics
}

// newPipeline は新しいPipelineを生成する。
func newPipeline(m *metrics, filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters, metrics: m}
}

// Run はExchangeに対してフィルタを順に実行する。
// 拒否された場合は応答を書き込んでfalseを返す。
func (p *Pipeline) Run(ex *Exchange) bool {
	for _, f := range p.filters {
		res := f(ex)
		if !res.stop {
			continue
		}
		if res.rejection != nil {
			ex.Stage = res.rejection.Stage
			writeRejection(ex.Context, *res.rejection)
		} else {
			ex.Stage = StageAbandoned
			ex.Context.Abort()
		}
		p.observe(ex, res.rejection)
		return false
	}
	return true
}

// Handle はパイプラインの全フィルタを実行するGinハンドラ。
// ゲートウェイ自身が処理しない全てのパスはここに到達する。
func (p *Pipeline) Handle(c *gin.Context) {
	ex := newExchange(c)
	if !p.Run(ex) {
		return
	}
	ex.Stage = StageResponded
	p.observe(ex, nil)
}

// Middleware はフィルタを実行し、通過した場合に後続のハンドラへ進むGinミドルウェアを返す。
// ゲートウェイ自身が処理するエンドポイントに流量制御だけを適用するために使う。
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ex := newExchange(c)
		if !p.Run(ex) {
			return
		}
		c.Next()
		ex.Stage = StageResponded
		p.observe(ex, nil)
	}
}

func newExchange(c *gin.Context) *Exchange {
	return &Exchange{Context: c, Stage: StageReceived, start: time.Now()}
}

// observe は終端状態をメトリクスに記録する。
func (p *Pipeline) observe(ex *Exchange, rej *Rejection) {
	if p.metrics == nil {
		return
	}
	code := ""
	if rej != nil {
		code = rej.Code
	}
	p.metrics.observeOutcome(ex.Stage, code, time.Since(ex.start))
}
