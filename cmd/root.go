package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fetchtube/downloader"
	"fetchtube/internal"
	"fetchtube/server"
	"fetchtube/utils"
)

var (
	listenAddr    string
	extractorBin  string
	downloadDir   string
	deliveryMode  string
	proxyList     string
	postgresDSN   string
	cookieSource  string
	fetchOutput   string
	fetchFormat   string
	fetchProxy    string
	fetchNoVideo  bool
	debug         bool
	quiet         bool
	logLevel      string
	logFile       string
	config        *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "fetchtube",
	Short:   "Serve a media download gateway backed by yt-dlp",
	Version: "v1.0.0",
	Long: `FetchTube runs an HTTP gateway in front of the yt-dlp extractor with
cookie-based session handling, proxy rotation, retry with format fallback,
and live progress reporting over SSE.

Examples:
  fetchtube
  fetchtube --listen :9090 --delivery buffered
  fetchtube fetch -o video.mp4 https://www.youtube.com/watch?v=dQw4w9WgXcQ

Environment Variables:
  FETCHTUBE_LISTEN_ADDR        HTTP listen address
  FETCHTUBE_EXTRACTOR_BIN      Extractor binary (default yt-dlp)
  FETCHTUBE_DOWNLOAD_DIR       Directory for buffered temp files
  FETCHTUBE_DELIVERY           Delivery mode (streaming or buffered)
  FETCHTUBE_COOKIE_SOURCE_URL  Remote URL serving a Netscape cookie file
  FETCHTUBE_PROXY_LIST         Comma/semicolon separated proxy URLs
  FETCHTUBE_POSTGRES_DSN       Postgres DSN for history (empty = in-memory)
  FETCHTUBE_RATE_LIMIT_COUNT   Requests allowed per client IP per window
  FETCHTUBE_MAX_RETRIES        Download attempts before giving up`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}
		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("logger initialization error: %v", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway (same as invoking fetchtube with no command)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <URL>",
	Short: "Download a single video to a local file",
	Long: `Fetch runs one download through the full pipeline (cookies, proxy
rotation, retry with format fallback, output validation) and writes the
result to a local file instead of serving it over HTTP.

Examples:
  fetchtube fetch https://www.youtube.com/watch?v=dQw4w9WgXcQ
  fetchtube fetch -o clip.mp4 -f "best[height<=720]" https://youtu.be/dQw4w9WgXcQ
  fetchtube fetch --audio-only -o track.m4a https://www.youtube.com/watch?v=dQw4w9WgXcQ`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(args[0])
	},
}

// runServer starts the HTTP gateway and blocks until a termination signal
// or a listener failure.
func runServer() error {
	srv, err := server.New(config)
	if err != nil {
		return fmt.Errorf("server setup failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case sig := <-sigChan:
		internal.LogInfo("Received signal %v, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	case err := <-errChan:
		return err
	}
}

// runFetch performs a one-off download of url to a local file.
func runFetch(url string) error {
	urls := utils.NewURLValidator()
	if err := urls.ValidateURL(url); err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	urlInfo, err := urls.ParseURL(url)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}

	format := fetchFormat
	hasVideo := !fetchNoVideo
	if fetchNoVideo && format == "best" {
		format = "bestaudio"
	}

	outputPath := fetchOutput
	if outputPath == "" {
		outputPath = defaultOutputPath(urlInfo, hasVideo)
	}
	if err := validateOutputPath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %v", err)
	}

	// The CLI always buffers so the result is validated before it lands
	// at the final path.
	config.DeliveryMode = internal.DeliveryBuffered
	if fetchProxy != "" {
		config.ProxyList = fetchProxy
	}

	credentials := downloader.NewCookieCache(config)
	defer credentials.Cleanup()
	proxies := downloader.NewProxySelector(config.ProxyList)
	tracker := downloader.NewProgressTracker()
	orch := downloader.NewOrchestrator(config, credentials, proxies, tracker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		internal.LogInfo("Received signal %v, aborting download...", sig)
		cancel()
	}()

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("cannot create output file: %v", err)
	}

	req := internal.DownloadRequest{
		URL:        urlInfo.CanonicalURL(),
		FormatID:   format,
		Title:      urlInfo.VideoID,
		Ext:        extFromPath(outputPath, hasVideo),
		HasVideo:   hasVideo,
		DownloadID: uuid.NewString(),
	}

	watchDone := make(chan struct{})
	if quiet {
		close(watchDone)
	} else {
		go func() {
			defer close(watchDone)
			watchProgress(ctx, tracker, req.DownloadID)
		}()
	}

	downloadErr := orch.Download(ctx, req, &fileSink{file: file})
	cancel()
	<-watchDone

	if closeErr := file.Close(); downloadErr == nil {
		downloadErr = closeErr
	}
	if downloadErr != nil {
		os.Remove(outputPath)
		return downloadErr
	}

	if !quiet {
		if info, err := os.Stat(outputPath); err == nil {
			fmt.Printf("Saved %s (%s)\n", outputPath, formatBytes(info.Size()))
		} else {
			fmt.Printf("Saved %s\n", outputPath)
		}
	}
	return nil
}

// fileSink adapts a local file to the delivery interface used by the
// download pipeline. KeepAlive is a no-op since there is no idle peer.
type fileSink struct {
	file *os.File
}

func (s *fileSink) Write(p []byte) (int, error) { return s.file.Write(p) }

func (s *fileSink) Start(contentLength int64) error { return nil }

func (s *fileSink) KeepAlive() error { return nil }

// watchProgress renders pipeline progress as a terminal bar until the
// download reaches a terminal state or ctx is cancelled.
func watchProgress(ctx context.Context, tracker *downloader.ProgressTracker, id string) {
	tmpl := `{{string . "prefix"}}{{bar . }} {{percent . }} {{string . "status"}}`
	bar := pb.ProgressBarTemplate(tmpl).Start64(100)
	bar.Set("prefix", "Fetching: ")
	defer bar.Finish()

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Get(id)
			if snap == nil {
				continue
			}
			bar.SetCurrent(int64(snap.Progress))
			status := snap.Message
			if snap.Speed != "" {
				status = fmt.Sprintf("%s  %s", snap.Speed, snap.Message)
			}
			bar.Set("status", status)
			if snap.Completed {
				return
			}
		}
	}
}

// loadConfiguration merges defaults, .env files, environment variables and
// CLI flags, with flags taking precedence.
func loadConfiguration() error {
	config = internal.DefaultConfig()
	if err := internal.LoadDotEnv(); err != nil {
		return err
	}
	config.LoadFromEnv()

	if listenAddr != "" {
		config.ListenAddr = listenAddr
	}
	if extractorBin != "" {
		config.ExtractorBin = extractorBin
	}
	if downloadDir != "" {
		config.DownloadDir = downloadDir
	}
	if deliveryMode != "" {
		config.DeliveryMode = internal.DeliveryMode(strings.ToLower(deliveryMode))
	}
	if proxyList != "" {
		config.ProxyList = proxyList
	}
	if postgresDSN != "" {
		config.PostgresDSN = postgresDSN
	}
	if cookieSource != "" {
		config.CookieSourceURL = cookieSource
	}

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}

	return config.ValidateConfig()
}

// defaultOutputPath derives an output filename from the parsed URL.
func defaultOutputPath(urlInfo *utils.URLInfo, hasVideo bool) string {
	name := urlInfo.VideoID
	if name == "" {
		name = "fetchtube_download"
	}
	if hasVideo {
		return name + ".mp4"
	}
	return name + ".m4a"
}

// validateOutputPath checks that the target directory exists and is writable.
func validateOutputPath(path string) error {
	if path == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
	}

	testFile := filepath.Join(dir, ".fetchtube_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory: %v", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

// extFromPath returns the output extension without the dot, falling back to
// the container the pipeline produces for the media kind.
func extFromPath(path string, hasVideo bool) string {
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		return ext
	}
	if hasVideo {
		return "mp4"
	}
	return "m4a"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)

	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "", "HTTP listen address (env: FETCHTUBE_LISTEN_ADDR) (default :8080)")
	rootCmd.PersistentFlags().StringVar(&deliveryMode, "delivery", "", "Delivery mode: streaming or buffered (env: FETCHTUBE_DELIVERY)")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres DSN for download history (env: FETCHTUBE_POSTGRES_DSN)")

	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Output file path (default derived from the video id)")
	fetchCmd.Flags().StringVarP(&fetchFormat, "format", "f", "best", "Format selector passed to the extractor")
	fetchCmd.Flags().StringVar(&fetchProxy, "proxy", "", "Proxy URL for this download (env: FETCHTUBE_PROXY_LIST)")
	fetchCmd.Flags().BoolVar(&fetchNoVideo, "audio-only", false, "Download the audio track only")

	rootCmd.PersistentFlags().StringVar(&extractorBin, "extractor", "", "Extractor binary (env: FETCHTUBE_EXTRACTOR_BIN) (default yt-dlp)")
	rootCmd.PersistentFlags().StringVar(&downloadDir, "download-dir", "", "Directory for buffered temp files (env: FETCHTUBE_DOWNLOAD_DIR)")
	rootCmd.PersistentFlags().StringVar(&proxyList, "proxy-list", "", "Comma/semicolon separated proxy URLs (env: FETCHTUBE_PROXY_LIST)")
	rootCmd.PersistentFlags().StringVar(&cookieSource, "cookie-source", "", "Remote URL serving a Netscape cookie file (env: FETCHTUBE_COOKIE_SOURCE_URL)")

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: FETCHTUBE_DEBUG)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output (env: FETCHTUBE_QUIET)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: FETCHTUBE_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: FETCHTUBE_LOG_FILE)")
}

func Execute() error {
	return rootCmd.Execute()
}
