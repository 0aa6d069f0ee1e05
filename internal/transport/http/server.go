// Package fleethttp 提供车队的管理 HTTP API 与 WebSocket 事件推送。
package fleethttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleet/internal/broadcast"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/scheduler"
	"fleet/internal/store/decisionlog"
	"fleet/internal/store/gormstore"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr     string
	Registry *scheduler.Registry
	Commands *scheduler.Scheduler
	Store    *gormstore.GormStore
	Logs     *decisionlog.Store
	Market   *market.Cache
	Hub      *broadcast.Hub
	Symbols  []string
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil || cfg.Commands == nil {
		return nil, errors.New("fleet http server requires registry and scheduler")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{
		registry: cfg.Registry,
		commands: cfg.Commands,
		store:    cfg.Store,
		logs:     cfg.Logs,
		market:   cfg.Market,
		symbols:  cfg.Symbols,
	}
	h.register(router.Group("/api/fleet"))

	if cfg.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			cfg.Hub.ServeWS(c.Writer, c.Request)
		})
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

// Run 阻塞运行，ctx 取消后优雅关停。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: 监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http: %s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
