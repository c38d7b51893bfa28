package gateway

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/nao1215/hrgate/internal/audit"
	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/identity"
	"github.com/nao1215/hrgate/internal/ratelimit"
	"github.com/nao1215/hrgate/internal/route"
	"github.com/nao1215/hrgate/internal/telemetry"
	"github.com/nao1215/hrgate/internal/validation"
	"github.com/nao1215/hrgate/pkg/httpclient"
	"github.com/nao1215/hrgate/pkg/middleware"
)

// readHeaderTimeout はリクエストヘッダーの読み込み待ち時間。
const readHeaderTimeout = 10 * time.Second

// Dependencies はServerが使う外部の部品。
type Dependencies struct {
	// Config はゲートウェイの設定。
	Config *config.Config
	// Store はプロフィールと監査ログの永続化先。
	Store Store
	// Limiter はレート制限サービス。所有権は呼び出し元にあり、Closeは呼び出し元が行う。
	Limiter *ratelimit.Service
	// Issuer はセッショントークンの発行・検証を行う。
	Issuer *identity.Issuer
	// Metrics はPrometheusメトリクス。nilなら /metrics は404になる。
	Metrics *telemetry.Metrics
	// Upstream は業務APIの転送先。nilなら業務APIは503になる。
	Upstream *httpclient.Client
	// Tracer はトレーサー。nilならグローバルのプロバイダを使う。
	Tracer trace.Tracer
	// AccessLog はアクセスログの出力先。nilなら出力しない。
	AccessLog io.Writer
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// pipeline はすべてのAPIリクエストが通過するPipeline。
	pipeline *Pipeline
	// issuer はログイン時のトークン発行に使う。
	issuer *identity.Issuer
	// metrics は /metrics で公開するメトリクス。
	metrics *telemetry.Metrics
	// upstream は業務APIの転送先。
	upstream *httpclient.Client
	// secureCookie はセッションCookieにSecure属性を付けるかどうか。
	secureCookie bool
	// addr はサーバーの待ち受けアドレス。
	addr string
}

// endpoint はルートに登録するメソッドとハンドラ。
type endpoint struct {
	methods []string
	handler HandlerFunc
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(deps Dependencies) *Server {
	cfg := deps.Config

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		log.Printf("[Gateway] 信頼するプロキシの設定に失敗したため接続元アドレスを使います: %v", err)
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	if deps.AccessLog != nil {
		router.Use(gin.LoggerWithWriter(deps.AccessLog))
	}
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	pipeline := NewPipeline(PipelineConfig{
		Limiter:     deps.Limiter,
		Resolver:    identity.NewResolver(deps.Issuer, deps.Store),
		Validator:   validation.New(),
		Audit:       audit.NewLogger(deps.Store),
		Store:       deps.Store,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
		Development: !cfg.IsProduction(),
	})

	s := &Server{
		router:       router,
		pipeline:     pipeline,
		issuer:       deps.Issuer,
		metrics:      deps.Metrics,
		upstream:     deps.Upstream,
		secureCookie: cfg.IsProduction(),
		addr:         cfg.Addr(),
	}
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer は設定済みのhttp.Serverを返す。
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// endpoints はルートごとのメソッドとハンドラの表。
// route.All() のすべてのルートが登録されている必要がある。
func (s *Server) endpoints() map[route.Route]endpoint {
	collection := []string{http.MethodGet, http.MethodPost}
	item := []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete}
	get := []string{http.MethodGet}

	return map[route.Route]endpoint{
		route.Health:           {methods: get, handler: s.handleHealth},
		route.Metrics:          {methods: get, handler: s.handleMetrics},
		route.Login:            {methods: []string{http.MethodPost}, handler: s.handleLogin},
		route.Me:               {methods: get, handler: s.handleMe},
		route.Employees:        {methods: collection, handler: s.handleForward},
		route.Employee:         {methods: item, handler: s.handleForward},
		route.Attendance:       {methods: collection, handler: s.handleForward},
		route.AttendanceRecord: {methods: item, handler: s.handleForward},
		route.LeaveRequests:    {methods: collection, handler: s.handleForward},
		route.LeaveRequest:     {methods: item, handler: s.handleForward},
		route.Payroll:          {methods: collection, handler: s.handleForward},
		route.PayrollRecord:    {methods: item, handler: s.handleForward},
		route.AuditLogs:        {methods: get, handler: s.handleAuditLogs},
	}
}

// setupRoutes はAPIルーティングを設定する。
// プリフライトに応答するため、すべてのルートにOPTIONSも登録する。
func (s *Server) setupRoutes() {
	endpoints := s.endpoints()
	for _, rt := range route.All() {
		ep, ok := endpoints[rt]
		if !ok {
			continue
		}
		h := s.pipeline.Handle(rt, ep.handler)
		for _, method := range ep.methods {
			s.router.Handle(method, rt.GinPattern(), h)
		}
		s.router.OPTIONS(rt.GinPattern(), h)
	}

	s.router.NoRoute(s.pipeline.Handle(route.Unknown, s.handleNotFound))
	s.router.NoMethod(s.pipeline.Handle(route.Unknown, s.handleMethodNotAllowed))
}
