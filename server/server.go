// Package server hosts the HTTP surface: the download and metadata
// endpoints, the SSE progress stream, history and settings administration,
// and the liveness/metrics endpoints.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fetchtube/downloader"
	"fetchtube/internal"
	"fetchtube/store"
	"fetchtube/utils"
)

// Server owns the HTTP listener and the background maintenance loops
type Server struct {
	cfg         *internal.Config
	engine      *gin.Engine
	httpServer  *http.Server
	store       store.Store
	credentials internal.CredentialSource
	fileOps     *utils.FileOperations
	sweepStop   chan struct{}
}

// New assembles the full pipeline from configuration: store, credential
// cache, proxy selector, orchestrator, notifier, and routes.
func New(cfg *internal.Config) (*Server, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	applyStoredSettings(cfg, st)

	credentials := downloader.NewCookieCache(cfg)
	proxies := downloader.NewProxySelector(cfg.ProxyList)
	tracker := downloader.NewProgressTracker()
	orchestrator := downloader.NewOrchestrator(cfg, credentials, proxies, tracker, st)
	info := downloader.NewInfoFetcher(cfg, credentials, proxies)
	notifier := NewNotifier(cfg, tracker)
	limiter := NewIPRateLimiter(cfg.RateLimitCount, cfg.RateLimitWindow)

	if !cfg.EnableDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	handlers := NewHandlers(cfg, orchestrator, info, notifier, limiter, st)
	handlers.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		cfg:         cfg,
		engine:      engine,
		store:       st,
		credentials: credentials,
		fileOps:     utils.NewFileOperations(),
		sweepStop:   make(chan struct{}),
	}, nil
}

// applyStoredSettings lets operator-saved settings override the static
// configuration. Lookup failures fall back to the configured values.
func applyStoredSettings(cfg *internal.Config, st store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if v, err := st.GetSetting(ctx, "proxy_list"); err == nil && v != "" {
		cfg.ProxyList = v
	}
	if v, err := st.GetSetting(ctx, "cookie_source_url"); err == nil && v != "" {
		cfg.CookieSourceURL = v
	}
}

func openStore(cfg *internal.Config) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		internal.LogInfo("No database configured, history is in-memory only")
		return store.NewMemoryStore(cfg.HistoryLimit), nil
	}
	return store.NewPostgresStore(cfg.PostgresDSN, cfg.HistoryLimit)
}

// Start begins serving and blocks until the listener fails or Stop is called
func (s *Server) Start() error {
	if err := os.MkdirAll(s.cfg.DownloadDir, 0755); err != nil {
		return err
	}

	go s.sweepLoop()

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
		// No write timeout: streaming downloads legitimately take minutes
		ReadHeaderTimeout: 10 * time.Second,
	}

	internal.LogInfo("Listening on %s (delivery=%s)", s.cfg.ListenAddr, s.cfg.DeliveryMode)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and releases background resources
func (s *Server) Stop(ctx context.Context) error {
	close(s.sweepStop)
	s.credentials.Cleanup()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// sweepLoop periodically removes abandoned temp files from the download
// workspace. Crashed or cancelled attempts can leave partial output behind.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.fileOps.SweepOlderThan(s.cfg.DownloadDir, s.cfg.SweepMaxAge)
			if err != nil {
				internal.LogWarn("Temp sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				internal.LogInfo("Temp sweep removed %d stale file(s)", removed)
			}
		case <-s.sweepStop:
			return
		}
	}
}

// requestLogger emits one line per request through the process logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// The SSE and download endpoints hold connections open for minutes;
		// the elapsed time is still worth recording.
		internal.LogInfo("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
