package server

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fetchtube/downloader"
	"fetchtube/internal"
	"fetchtube/store"
)

// infoTimeout bounds one metadata fetch
const infoTimeout = 60 * time.Second

// DownloadService is what the HTTP layer needs from the download pipeline
type DownloadService interface {
	Download(ctx context.Context, req internal.DownloadRequest, sink downloader.DeliverySink) error
	Cancel(id string) bool
}

// InfoService fetches video metadata
type InfoService interface {
	Fetch(ctx context.Context, url string) (*internal.VideoInfo, error)
}

// Handlers holds the HTTP endpoint implementations
type Handlers struct {
	cfg       *internal.Config
	downloads DownloadService
	info      InfoService
	notifier  *Notifier
	limiter   *IPRateLimiter
	store     store.Store
}

// NewHandlers wires the endpoint set
func NewHandlers(cfg *internal.Config, downloads DownloadService, info InfoService, notifier *Notifier, limiter *IPRateLimiter, st store.Store) *Handlers {
	return &Handlers{
		cfg:       cfg,
		downloads: downloads,
		info:      info,
		notifier:  notifier,
		limiter:   limiter,
		store:     st,
	}
}

// Register mounts all routes on the engine
func (h *Handlers) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/fetch-info", h.handleFetchInfo)
		api.POST("/download", h.handleDownload)
		api.DELETE("/download", h.handleCancel)
		api.GET("/download-progress", h.handleProgress)
		api.GET("/history", h.handleHistoryList)
		api.DELETE("/history", h.handleHistoryClear)
		api.GET("/settings/:key", h.handleGetSetting)
		api.PUT("/settings/:key", h.handleSetSetting)
	}
	r.GET("/healthz", h.handleHealth)
}

// httpSink adapts the gin response writer to the download pipeline's
// delivery sink. Writes and keep-alives arrive from different goroutines.
type httpSink struct {
	mutex     sync.Mutex
	w         gin.ResponseWriter
	wroteBody bool
}

func (s *httpSink) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.wroteBody = true
	n, err := s.w.Write(p)
	if err == nil {
		s.w.Flush()
	}
	return n, err
}

// Start announces the payload size; only the buffered pipeline calls it
func (s *httpSink) Start(contentLength int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	return nil
}

// KeepAlive flushes the response so headers reach the client and the
// connection stays warm while the extractor is still negotiating upstream.
func (s *httpSink) KeepAlive() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.wroteBody {
		s.w.Flush()
	}
	return nil
}

func (s *httpSink) bodyWritten() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.wroteBody
}

func (h *Handlers) handleDownload(c *gin.Context) {
	var req internal.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "request body must be valid JSON",
		})
		return
	}
	if req.DownloadID == "" {
		req.DownloadID = uuid.NewString()
	}
	req.ClientIP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	// Rate limit before any subprocess is spawned
	if !h.limiter.Allow(req.ClientIP) {
		ferr := internal.NewRateLimitError(h.cfg.RateLimitWindow.String())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":    false,
			"error":      ferr.UserMessage(),
			"downloadId": req.DownloadID,
		})
		return
	}

	c.Header("X-Download-Id", req.DownloadID)
	c.Header("Content-Type", contentTypeFor(req.Ext))
	c.Header("Content-Disposition", attachmentFor(req))
	c.Header("Cache-Control", "no-store")
	if h.cfg.DeliveryMode == internal.DeliveryStreaming {
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
	}

	sink := &httpSink{w: c.Writer}
	err := h.downloads.Download(c.Request.Context(), req, sink)
	if err == nil {
		return
	}
	if sink.bodyWritten() {
		// Media bytes are already on the wire; the truncated stream is the
		// only error signal we can still send.
		return
	}

	ferr, ok := err.(*internal.FetchError)
	if !ok {
		ferr = internal.NewFatalError(err.Error())
	}

	h.clearDeliveryHeaders(c)
	switch ferr.Kind {
	case internal.KindInvalidInput:
		c.JSON(http.StatusBadRequest, h.failureBody(ferr, req.DownloadID))
	case internal.KindRateLimited:
		c.JSON(http.StatusTooManyRequests, h.failureBody(ferr, req.DownloadID))
	default:
		// A success-level status carries the structured failure so hosting
		// gateways do not replace the body with their own error page.
		c.JSON(http.StatusOK, h.failureBody(ferr, req.DownloadID))
	}
}

func (h *Handlers) failureBody(ferr *internal.FetchError, downloadID string) gin.H {
	return gin.H{
		"success":        false,
		"error":          ferr.UserMessage(),
		"errorKind":      ferr.Kind.String(),
		"isBotDetection": ferr.Kind == internal.KindBotDetected,
		"downloadId":     downloadID,
	}
}

func (h *Handlers) clearDeliveryHeaders(c *gin.Context) {
	header := c.Writer.Header()
	header.Del("Content-Disposition")
	header.Del("Content-Length")
	header.Del("Content-Type")
	header.Del("X-Accel-Buffering")
}

func (h *Handlers) handleFetchInfo(c *gin.Context) {
	var body struct {
		URL string `json:"url"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "url is required",
		})
		return
	}

	if !h.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   internal.NewRateLimitError(h.cfg.RateLimitWindow.String()).UserMessage(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), infoTimeout)
	defer cancel()

	info, err := h.info.Fetch(ctx, body.URL)
	if err != nil {
		ferr, ok := err.(*internal.FetchError)
		if !ok {
			ferr = internal.NewFatalError(err.Error())
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"error":          ferr.UserMessage(),
			"isBotDetection": ferr.Kind == internal.KindBotDetected,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": info})
}

func (h *Handlers) handleCancel(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "id is required"})
		return
	}
	if !h.downloads.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no active download with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) handleProgress(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "id is required"})
		return
	}
	h.notifier.Stream(c, id)
}

func (h *Handlers) handleHistoryList(c *gin.Context) {
	limit := h.cfg.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= h.cfg.HistoryLimit {
			limit = n
		}
	}

	entries, err := h.store.ListHistory(c.Request.Context(), limit)
	if err != nil {
		internal.LogError("Failed to list history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entries})
}

func (h *Handlers) handleHistoryClear(c *gin.Context) {
	if err := h.store.ClearHistory(c.Request.Context()); err != nil {
		internal.LogError("Failed to clear history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to clear history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) handleGetSetting(c *gin.Context) {
	value, err := h.store.GetSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		internal.LogError("Failed to read setting: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "value": value})
}

func (h *Handlers) handleSetSetting(c *gin.Context) {
	var body struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request body must be valid JSON"})
		return
	}
	if err := h.store.SetSetting(c.Request.Context(), c.Param("key"), body.Value); err != nil {
		internal.LogError("Failed to write setting: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to write setting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) handleHealth(c *gin.Context) {
	if _, err := exec.LookPath(h.cfg.ExtractorBin); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  fmt.Sprintf("extractor binary %q not found", h.cfg.ExtractorBin),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// contentTypeFor maps a requested extension to the response media type
func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case "mp4", "m4v":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "opus", "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// attachmentFor builds a Content-Disposition with a sanitized filename
func attachmentFor(req internal.DownloadRequest) string {
	title := req.Title
	if title == "" {
		title = "download"
	}
	// Strip characters that break the header or the receiving filesystem
	replacer := strings.NewReplacer(
		`"`, "", `\`, "", "/", "-", ":", "-", "*", "", "?", "", "<", "", ">", "", "|", "", "\n", " ", "\r", " ",
	)
	title = strings.TrimSpace(replacer.Replace(title))
	if title == "" {
		title = "download"
	}
	ext := req.Ext
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf(`attachment; filename="%s.%s"`, title, ext)
}
