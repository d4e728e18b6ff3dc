// Package statusapi exposes the daemon over HTTP: status and history
// reads, connection and dispatch control, the manual serial console, and
// a websocket stream of cycle results.
package statusapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/finshlink/internal/dispatch"
	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/telemetry"
	"codeberg.org/mutker/finshlink/internal/transport"
	"github.com/gin-gonic/gin"
)

const (
	defaultRecentLimit  = 50
	shutdownGracePeriod = 5 * time.Second
)

type Config struct {
	Addr             string
	DefaultTransport transport.Config
}

type Server struct {
	cfg       Config
	scheduler *dispatch.Scheduler
	tr        transport.Manager
	repo      telemetry.Repository
	hub       *hub
	httpSrv   *http.Server
}

// NewServer wires the HTTP surface. repo may be nil when telemetry is
// disabled; the log endpoint then reports it unavailable.
func NewServer(cfg Config, scheduler *dispatch.Scheduler, tr transport.Manager, repo telemetry.Repository) *Server {
	s := &Server{
		cfg:       cfg,
		scheduler: scheduler,
		tr:        tr,
		repo:      repo,
		hub:       newHub(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/history", s.handleHistory)
		api.GET("/log", s.handleLog)
		api.GET("/ports", s.handlePorts)
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/dispatch/start", s.handleDispatchStart)
		api.POST("/dispatch/stop", s.handleDispatchStop)
		api.POST("/dispatch/send", s.handleDispatchSend)
		api.POST("/raw", s.handleRaw)
	}
	router.GET("/ws", s.handleWebsocket)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Broadcast forwards a cycle result to websocket subscribers; intended
// as the scheduler's onResult hook
func (s *Server) Broadcast(result dispatch.CycleResult) {
	s.hub.Broadcast(result)
}

// Start serves until ListenAndServe fails or Shutdown is called
func (s *Server) Start() error {
	logger.Info().Str("addr", s.cfg.Addr).Msg("Status API listening")

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errFactory.Wrap(ErrServerFailed, err)
	}

	return nil
}

func (s *Server) Shutdown() error {
	s.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return errFactory.Wrap(ErrServerFailed, err)
	}

	return nil
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

type statusResponse struct {
	Running            bool                  `json:"running"`
	Transport          string                `json:"transport"`
	Device             string                `json:"device"`
	IntervalMs         int64                 `json:"interval_ms"`
	TicksSkipped       uint64                `json:"ticks_skipped"`
	SequenceMismatches uint64                `json:"sequence_mismatches"`
	Last               *dispatch.CycleResult `json:"last,omitempty"`
	Stats              transport.Stats       `json:"stats"`
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.scheduler.Status()

	c.JSON(http.StatusOK, statusResponse{
		Running:            st.Running,
		Transport:          st.Transport.String(),
		Device:             st.Device,
		IntervalMs:         st.Interval.Milliseconds(),
		TicksSkipped:       st.TicksSkipped,
		SequenceMismatches: st.SequenceMismatches,
		Last:               st.Last,
		Stats:              s.tr.Stats(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.scheduler.History()})
}

func (s *Server) handleLog(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry disabled"})

		return
	}

	limit := defaultRecentLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}

	results, err := s.repo.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.tr.ListPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

type connectRequest struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	cfg := s.cfg.DefaultTransport
	if req.Device != "" {
		cfg.Device = req.Device
	}
	if req.Baud > 0 {
		cfg.BaudRate = req.Baud
	}

	if err := s.tr.Connect(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"state": s.tr.State().String(), "device": cfg.Device})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.tr.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"state": s.tr.State().String()})
}

func (s *Server) handleDispatchStart(c *gin.Context) {
	if err := s.scheduler.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) handleDispatchStop(c *gin.Context) {
	if err := s.scheduler.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) handleDispatchSend(c *gin.Context) {
	result, err := s.scheduler.SendOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, result)
}
