// Package api serves the lifecycle to the community website and admins.
package api

import (
	"context"
	"net/http"
	"time"

	"whitelist-bot/internal/common/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Address      string
	AdminToken   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TrustedProxies lists the addresses or CIDRs allowed to set
	// X-Forwarded-For. Empty means the peer address is always the client.
	TrustedProxies []string
}

type Dependencies struct {
	Lifecycle Lifecycle
	// Searcher is optional; /search is only mounted when it is set.
	Searcher Searcher
	// Limiter is optional and only guards /submit and /fail.
	Limiter Limiter
	// Checks are pinged by /ready.
	Checks map[string]Pinger
	Logger logger.Logger
}

type Server struct {
	cfg       Config
	lifecycle Lifecycle
	searcher  Searcher
	limiter   Limiter
	proxies   trustedProxies
	checks    map[string]Pinger
	logger    logger.Logger
	handler   http.Handler
	srv       *http.Server
}

func NewServer(cfg Config, deps Dependencies) *Server {
	s := &Server{
		cfg:       cfg,
		lifecycle: deps.Lifecycle,
		searcher:  deps.Searcher,
		limiter:   deps.Limiter,
		checks:    deps.Checks,
		logger:    logger.Component(deps.Logger, "http"),
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		s.logger.Error("ignoring trusted proxies", map[string]interface{}{"error": err.Error()})
	}
	s.proxies = proxies
	s.handler = s.routes()
	s.srv = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	admin := requireAdmin(s.cfg.AdminToken)

	s.route(mux, "GET /status", s.handleStatus)
	s.route(mux, "POST /fail", s.handleFail, rateLimit(s.limiter, "fail", s.proxies))
	s.route(mux, "POST /submit", s.handleSubmit, rateLimit(s.limiter, "submit", s.proxies))
	s.route(mux, "GET /members", s.handleMembers)
	s.route(mux, "GET /member-check", s.handleMemberCheck)

	s.route(mux, "POST /blacklist", s.handleBlacklist, admin)
	s.route(mux, "POST /unblacklist", s.handleUnblacklist, admin)
	s.route(mux, "POST /whitelist", s.handleWhitelist, admin)
	s.route(mux, "GET /all", s.handleAll, admin)
	if s.searcher != nil {
		s.route(mux, "GET /search", s.handleSearch, admin)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return chain(mux, recoverer(s.logger), cors)
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc, mws ...middleware) {
	all := append([]middleware{instrument(pattern, s.logger)}, mws...)
	mux.Handle(pattern, chain(h, all...))
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.cfg.Address})
	if err := s.srv.ListenAndServe(); err != nil && !isServerClosed(err) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
