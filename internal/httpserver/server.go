// Package httpserver serves the relay's local status API.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/relay"
)

// StatusSource is the narrow relay contract required by the API.
type StatusSource interface {
	Status(ctx context.Context) (relay.StatusReport, error)
	Phase() relay.Phase
	LastCycle() (relay.CycleReport, bool)
}

// CycleHistory lists recorded cycles. Optional.
type CycleHistory interface {
	RecentCycles(ctx context.Context, limit int) ([]ledger.Cycle, error)
}

// Options wires optional collaborators.
type Options struct {
	History  CycleHistory
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server provides the HTTP status API.
type Server struct {
	addr      string
	status    StatusSource
	opts      Options
	server    *http.Server
	listener  net.Listener
	startTime time.Time
}

// NewServer creates a status API server bound to addr.
func NewServer(addr string, status StatusSource, opts Options) *Server {
	if addr == "" {
		addr = "127.0.0.1:3900"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		status: status,
		opts:   opts,
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/cycles", s.handleCycles)
	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Error("status api stopped", "error", err)
		}
	}()
	s.opts.Logger.Info("status api listening", "addr", listener.Addr().String())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"phase":  s.status.Phase(),
	}
	if !s.startTime.IsZero() {
		body["uptime"] = time.Since(s.startTime).Round(time.Second).String()
	}
	if last, ok := s.status.LastCycle(); ok {
		body["last_cycle"] = gin.H{
			"number":      last.Number,
			"outcome":     last.Outcome,
			"finished_at": last.FinishedAt,
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	rep, err := s.status.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleCycles(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	cycles, err := s.opts.History.RecentCycles(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	rows := make([]gin.H, 0, len(cycles))
	for _, cy := range cycles {
		failures := make([]gin.H, 0, len(cy.Failures))
		for _, f := range cy.Failures {
			failures = append(failures, gin.H{
				"sink":         f.Sink,
				"subject":      f.Subject,
				"sequence_ids": f.SequenceIDs,
				"reason":       f.Reason,
			})
		}
		rows = append(rows, gin.H{
			"id":            cy.ID,
			"started_at":    cy.StartedAt,
			"finished_at":   cy.FinishedAt,
			"outcome":       cy.Outcome,
			"fetched":       cy.Fetched,
			"admitted":      cy.Admitted,
			"delivered":     cy.Delivered,
			"failed":        cy.Failed,
			"cursor_before": cy.CursorBefore,
			"cursor_after":  cy.CursorAfter,
			"error":         cy.Error,
			"failures":      failures,
		})
	}
	c.JSON(http.StatusOK, gin.H{"cycles": rows, "count": len(rows)})
}
