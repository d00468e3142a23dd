// Package statusapi serves a small read-mostly HTTP API over the running
// bot. The only write is a breaker reset request, which the trading cycle
// applies on its next step.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/futuresbot/audit"
	"github.com/rustyeddy/futuresbot/bot"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Controller is the bot surface the API needs.
type Controller interface {
	Status() bot.Status
	RequestBreakerReset(reason string) error
}

type AuditLog interface {
	ListAudit(ctx context.Context, limit int) ([]audit.Event, error)
}

type Server struct {
	ctrl   Controller
	audit  AuditLog
	log    *zap.Logger
	engine *gin.Engine
}

func New(ctrl Controller, auditLog AuditLog, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ctrl:  ctrl,
		audit: auditLog,
		log:   log.With(zap.String("component", "statusapi")),
	}

	g := gin.New()
	g.Use(gin.Recovery(), requestID(), accessLog(s.log))
	g.NoRoute(notFound)
	s.Load(g)
	s.engine = g
	return s
}

// Load registers the routes on engine.
func (s *Server) Load(g *gin.Engine) {
	g.GET("/healthz", s.healthz)
	g.GET("/status", s.status)
	g.GET("/audit", s.auditEvents)
	g.POST("/breakers/reset", s.resetBreakers)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("status api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("status api shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	ok(c, http.StatusOK, s.ctrl.Status())
}

func (s *Server) auditEvents(c *gin.Context) {
	if s.audit == nil {
		fail(c, http.StatusServiceUnavailable, errors.New("audit log not configured"))
		return
	}
	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer, got %q", v))
			return
		}
		limit = min(n, maxAuditLimit)
	}
	events, err := s.audit.ListAudit(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("list audit", zap.Error(err))
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	ok(c, http.StatusOK, events)
}

type resetRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) resetBreakers(c *gin.Context) {
	var req resetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "status api"
	}
	if err := s.ctrl.RequestBreakerReset(req.Reason); err != nil {
		if errors.Is(err, bot.ErrResetPending) {
			fail(c, http.StatusConflict, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}
	s.log.Warn("breaker reset requested", zap.String("reason", req.Reason), zap.String("ip", c.ClientIP()))
	ok(c, http.StatusAccepted, gin.H{"queued": true, "reason": req.Reason})
}
