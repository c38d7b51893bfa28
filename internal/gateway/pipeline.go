package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/audit"
	"github.com/nao1215/hrgate/internal/identity"
	"github.com/nao1215/hrgate/internal/ratelimit"
	"github.com/nao1215/hrgate/internal/route"
	"github.com/nao1215/hrgate/internal/telemetry"
	"github.com/nao1215/hrgate/internal/validation"
	"github.com/nao1215/hrgate/pkg/middleware"
)

// tracerName はPipelineが使うトレーサーの名前。
const tracerName = "github.com/nao1215/hrgate/internal/gateway"

// maxBodyBytes はリクエストボディの読み込み上限。
const maxBodyBytes = 1 << 20

// statusClientClosedRequest は呼び出し元が中断したリクエストを監査ログに記録するときのステータス。
const statusClientClosedRequest = 499

const jsonContentType = "application/json; charset=utf-8"

// ステージ名。メトリクスのラベルとスパン名に使う。
const (
	stageRateLimit  = "ratelimit"
	stageIdentity   = "identity"
	stageValidation = "validation"
	stageHandler    = "handler"
	stageAudit      = "audit"
)

// レート制限のレスポンスヘッダー。
const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// PipelineConfig はPipelineの依存関係。
type PipelineConfig struct {
	// Limiter はレート制限サービス。
	Limiter *ratelimit.Service
	// Resolver はセッショントークンからPrincipalを解決する。
	Resolver *identity.Resolver
	// Validator はボディの検証器。nilなら既定のスキーマ表を使う。
	Validator *validation.Validator
	// Audit は監査ログの出力先。nilなら記録しない。
	Audit *audit.Logger
	// Store はハンドラに渡すデータアクセスの窓口。
	Store Store
	// Metrics はPrometheusメトリクス。nilなら記録しない。
	Metrics *telemetry.Metrics
	// Tracer はトレーサー。nilならグローバルのプロバイダから取得する。
	Tracer trace.Tracer
	// Development が真なら内部エラーの詳細をレスポンスに含める。
	Development bool
}

// Pipeline はすべてのAPIリクエストが通過する処理の流れ。
// 各ステージは失敗した時点で以降を打ち切り、エンベロープ形式の失敗レスポンスを返す。
type Pipeline struct {
	limiter     *ratelimit.Service
	resolver    *identity.Resolver
	validator   *validation.Validator
	audit       *audit.Logger
	store       Store
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	development bool
	now         func() time.Time
}

// NewPipeline は新しいPipelineを生成する。
func NewPipeline(cfg PipelineConfig) *Pipeline {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	v := cfg.Validator
	if v == nil {
		v = validation.New()
	}
	return &Pipeline{
		limiter:     cfg.Limiter,
		resolver:    cfg.Resolver,
		validator:   v,
		audit:       cfg.Audit,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		tracer:      tracer,
		development: cfg.Development,
		now:         time.Now,
	}
}

// exchange は1リクエストの処理中に各ステージが共有する状態。
type exchange struct {
	route     route.Route
	key       string
	requestID string
	preflight bool
	principal *identity.Principal
	decision  *ratelimit.Decision
}

// response は書き込み前のレスポンス。
type response struct {
	status      int
	header      http.Header
	contentType string
	body        []byte
	err         *apperr.Error
}

// Handle はハンドラをPipelineで包んだGinハンドラを返す。
// rtは登録先のルート。Unknownの場合、検証スキーマは適用せず、
// レート制限は正規化したパスをキーにする。
func (p *Pipeline) Handle(rt route.Route, h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := p.now()
		ctx, span := p.tracer.Start(c.Request.Context(), "gateway.request")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		ex := newExchange(c, rt)
		span.SetAttributes(
			attribute.String("hrgate.route", ex.route.String()),
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("hrgate.request_id", ex.requestID),
		)

		reply, err := p.run(ctx, c, ex, h)

		if ctxErr := ctx.Err(); ctxErr != nil {
			p.finish(ctx, c, ex, span, start, statusClientClosedRequest, audit.OutcomeCancelled, ctxErr)
			c.AbortWithStatus(statusClientClosedRequest)
			return
		}

		if err == nil && reply.Serve != nil {
			p.setHeaders(c, ex)
			reply.Serve.ServeHTTP(c.Writer, c.Request)
			status := c.Writer.Status()
			p.finish(ctx, c, ex, span, start, status, outcomeFor(status, nil), nil)
			return
		}

		resp := p.format(ex, reply, err)
		var cause error
		if resp.err != nil {
			cause = resp.err
		}
		p.finish(ctx, c, ex, span, start, resp.status, outcomeFor(resp.status, cause), cause)
		p.write(c, ex, resp)
	}
}

// newExchange はリクエストの共有状態を初期化する。
func newExchange(c *gin.Context, rt route.Route) *exchange {
	key := rt.Pattern()
	if key == "" {
		key = route.Normalize(c.Request.URL.Path)
	}
	requestID := middleware.GetRequestID(c)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &exchange{
		route:     rt,
		key:       key,
		requestID: requestID,
		preflight: c.Request.Method == http.MethodOptions,
	}
}

// run はハンドラの実行までのステージを順に処理する。
func (p *Pipeline) run(ctx context.Context, c *gin.Context, ex *exchange, h HandlerFunc) (Reply, error) {
	req := c.Request

	if err := p.stage(ctx, stageRateLimit, func(context.Context) error {
		return p.checkRateLimit(c, ex)
	}); err != nil {
		return Reply{}, err
	}

	// プリフライトはCORSヘッダーのみで応答する
	if ex.preflight {
		return Raw(http.StatusOK, nil, nil), nil
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if err := p.stage(ctx, stageIdentity, func(sctx context.Context) error {
		principal, err := p.resolver.Resolve(sctx, req, ex.route)
		ex.principal = principal
		return err
	}); err != nil {
		return Reply{}, err
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	body, err := readBody(c)
	if err != nil {
		return Reply{}, err
	}

	var data map[string]any
	if isMutating(req.Method) {
		if err := p.stage(ctx, stageValidation, func(context.Context) error {
			res, err := p.validator.ValidateRoute(ex.route, body)
			if err != nil {
				return err
			}
			if !res.Checked {
				if res.Delegated {
					log.Printf("[Gateway] ボディ検証をハンドラに委譲: %s %s", req.Method, ex.key)
				} else {
					log.Printf("[Gateway] スキーマ未定義のためボディ検証をスキップ: %s %s", req.Method, ex.key)
				}
				return nil
			}
			if !res.OK {
				return apperr.Validation(res.Errors)
			}
			data = res.Data
			return nil
		}); err != nil {
			return Reply{}, err
		}
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
	}

	hc := &Context{
		Principal: ex.principal,
		Store:     p.store,
		Body:      body,
		Data:      data,
		Route:     ex.route,
		RequestID: ex.requestID,
		Gin:       c,
	}
	var reply Reply
	err = p.stage(ctx, stageHandler, func(sctx context.Context) error {
		hc.Request = req.WithContext(sctx)
		var err error
		reply, err = p.invoke(h, hc)
		return err
	})
	return reply, err
}

// checkRateLimit はレート制限を判定する。プリフライトは実際のルートとは別のキーで数える。
func (p *Pipeline) checkRateLimit(c *gin.Context, ex *exchange) error {
	id := p.resolver.RateLimitIdentity(c.Request, c.ClientIP())

	var d ratelimit.Decision
	key := ratelimit.Key(id, ex.key)
	if ex.preflight {
		key = ratelimit.Key(id, http.MethodOptions+" "+ex.key)
		d = p.limiter.AllowKey(key, p.limiter.Policy(ex.key))
	} else {
		d = p.limiter.Allow(id, ex.key)
	}
	ex.decision = &d

	if !d.Allowed {
		p.metrics.ObserveRejection(ex.route.String())
		log.Printf("[RateLimit] 上限超過: key=%s retry_after=%s", key, d.RetryAfter)
		return apperr.RateLimited(d.RetryAfter)
	}
	return nil
}

// stage は1ステージを子スパンで包み、所要時間を記録する。
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := p.now()
	sctx, span := p.tracer.Start(ctx, "gateway."+name)
	defer span.End()

	err := fn(sctx)
	p.metrics.ObserveStage(name, p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// invoke はハンドラを実行する。パニックは内部エラーに変換する。
func (p *Pipeline) invoke(h HandlerFunc, hc *Context) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PANIC] %s %s: %v\n%s", hc.Request.Method, hc.Request.URL.Path, r, debug.Stack())
			reply = Reply{}
			err = apperr.Wrap(apperr.KindInternal, fmt.Errorf("ハンドラでパニックが発生: %v", r), "")
		}
	}()
	return h(hc)
}

// format はハンドラの結果をレスポンスに整形する。
func (p *Pipeline) format(ex *exchange, reply Reply, err error) response {
	if err != nil {
		return p.formatError(ex, err)
	}

	if reply.Raw != nil {
		status := reply.Raw.Status
		if status == 0 {
			status = http.StatusOK
		}
		return response{
			status:      status,
			header:      reply.Raw.Header,
			contentType: reply.Raw.Header.Get("Content-Type"),
			body:        reply.Raw.Body,
		}
	}

	body, merr := json.Marshal(Envelope{
		Success: true,
		Data:    reply.Data,
		Message: reply.Message,
		Meta:    reply.Meta,
	})
	if merr != nil {
		return p.formatError(ex, fmt.Errorf("レスポンスのシリアライズに失敗: %w", merr))
	}
	return response{status: http.StatusOK, contentType: jsonContentType, body: body}
}

// formatError はエラーを失敗エンベロープに整形する。
// 内部エラーの詳細は開発環境でのみレスポンスに含める。
func (p *Pipeline) formatError(ex *exchange, err error) response {
	appErr := apperr.From(err)
	env := Envelope{
		Success: false,
		Error:   appErr.Kind.Code(),
		Message: appErr.PublicMessage(),
		Details: appErr.Details,
	}
	if appErr.Kind == apperr.KindInternal {
		log.Printf("[Gateway] 内部エラー: request_id=%s route=%s error=%v", ex.requestID, ex.route, err)
		env.Message = appErr.Kind.DefaultMessage()
		if p.development {
			env.Message = appErr.Error()
		}
	}

	body, merr := json.Marshal(env)
	if merr != nil {
		body = []byte(`{"success":false,"error":"internal_error"}`)
	}
	return response{
		status:      appErr.Kind.Status(),
		contentType: jsonContentType,
		body:        body,
		err:         appErr,
	}
}

// finish は監査ログ、メトリクス、スパン属性を記録する。
// 監査ログはリクエストのキャンセルに影響されない。
func (p *Pipeline) finish(ctx context.Context, c *gin.Context, ex *exchange, span trace.Span, start time.Time, status int, outcome audit.Outcome, cause error) {
	rec := audit.Record{
		RequestID:  ex.requestID,
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Route:      ex.route.String(),
		Status:     status,
		DurationMs: p.now().Sub(start).Milliseconds(),
		Outcome:    outcome,
		SourceIP:   c.ClientIP(),
	}
	if ex.principal != nil {
		rec.PrincipalID = ex.principal.ID
		rec.TenantID = ex.principal.TenantID
		span.SetAttributes(attribute.String("hrgate.principal_id", ex.principal.ID))
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}

	_ = p.stage(context.WithoutCancel(ctx), stageAudit, func(actx context.Context) error {
		p.audit.Log(actx, rec)
		return nil
	})

	p.metrics.ObserveRequest(ex.route.String(), c.Request.Method, string(outcome))
	span.SetAttributes(
		attribute.String("hrgate.outcome", string(outcome)),
		attribute.Int("http.response.status_code", status),
	)
	if outcome != audit.OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
}

// write はレスポンスを書き込む。
func (p *Pipeline) write(c *gin.Context, ex *exchange, resp response) {
	p.setHeaders(c, ex)
	for name, values := range resp.header {
		if http.CanonicalHeaderKey(name) == "Content-Type" {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}

	if resp.body == nil {
		c.Status(resp.status)
		c.Writer.WriteHeaderNow()
		return
	}
	contentType := resp.contentType
	if contentType == "" {
		contentType = jsonContentType
	}
	c.Data(resp.status, contentType, resp.body)
}

// setHeaders はリクエストIDとレート制限のヘッダーを設定する。
func (p *Pipeline) setHeaders(c *gin.Context, ex *exchange) {
	c.Header(middleware.RequestIDHeader, ex.requestID)

	d := ex.decision
	if d == nil {
		return
	}
	if !ex.preflight {
		c.Header(headerRateLimitLimit, strconv.Itoa(d.Limit))
		c.Header(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
		c.Header(headerRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		c.Header(headerRetryAfter, strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
	}
}

// retryAfterSeconds は待ち時間を切り上げた秒数を返す。最小は1秒。
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// outcomeFor はステータスとエラーから監査ログの結果を決める。
func outcomeFor(status int, err error) audit.Outcome {
	if err != nil || status >= http.StatusBadRequest {
		return audit.OutcomeFailure
	}
	return audit.OutcomeSuccess
}

// isMutating はボディを検証するメソッドかどうかを返す。
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// readBody はリクエストボディを上限付きで読み込む。
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Wrap(apperr.KindMalformedBody, err, "リクエストボディが大きすぎます")
		}
		return nil, apperr.Wrap(apperr.KindMalformedBody, err, "リクエストボディの読み込みに失敗しました")
	}
	return body, nil
}
