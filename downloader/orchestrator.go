package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fetchtube/internal"
	"fetchtube/utils"
)

// killGrace is how long a terminated extractor gets before SIGKILL
const killGrace = 3 * time.Second

// errSinkGone marks a delivery failure on the sink side. No retry can reach
// a client that stopped reading, so these abort instead of re-downloading.
var errSinkGone = errors.New("sink closed during delivery")

// DeliverySink receives the media bytes for one download. The HTTP layer
// provides one per request.
type DeliverySink interface {
	io.Writer
	// Start announces the payload size before the first byte. Buffered mode
	// calls it with the validated file size; streaming mode never calls it.
	Start(contentLength int64) error
	// KeepAlive emits a no-op signal to hold the connection open while no
	// media bytes have flowed yet.
	KeepAlive() error
}

// HistoryWriter records completed and failed downloads
type HistoryWriter interface {
	AppendHistory(ctx context.Context, entry internal.HistoryEntry) error
}

// ProcessTable tracks the live extractor process per download id so an
// explicit cancellation can find and terminate it.
type ProcessTable struct {
	mutex sync.Mutex
	procs map[string]*ExtractorProcess
}

// NewProcessTable creates an empty table
func NewProcessTable() *ProcessTable {
	return &ProcessTable{procs: make(map[string]*ExtractorProcess)}
}

func (t *ProcessTable) register(id string, proc *ExtractorProcess) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.procs[id] = proc
}

func (t *ProcessTable) remove(id string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.procs, id)
}

// Cancel terminates the tracked process for id. Returns false when no
// download with that id is in flight.
func (t *ProcessTable) Cancel(id string) bool {
	t.mutex.Lock()
	proc, ok := t.procs[id]
	t.mutex.Unlock()
	if !ok {
		return false
	}
	internal.LogInfo("Cancelling download %s (pid=%d)", id, proc.Pid())
	proc.Kill(killGrace)
	return true
}

// Len reports how many downloads are in flight
func (t *ProcessTable) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.procs)
}

// Orchestrator coordinates one download end-to-end: credential acquisition,
// process spawn, byte delivery, validation, retry with format fallback,
// error classification, history logging, and cleanup.
type Orchestrator struct {
	cfg         *internal.Config
	credentials internal.CredentialSource
	proxies     internal.ProxyPicker
	adapter     *ExtractorAdapter
	tracker     *ProgressTracker
	validator   *OutputValidator
	history     HistoryWriter
	procs       *ProcessTable
	fileOps     *utils.FileOperations
	urls        *utils.URLValidator
}

// NewOrchestrator wires the download pipeline. history may be nil when no
// store is configured.
func NewOrchestrator(
	cfg *internal.Config,
	credentials internal.CredentialSource,
	proxies internal.ProxyPicker,
	tracker *ProgressTracker,
	history HistoryWriter,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		credentials: credentials,
		proxies:     proxies,
		adapter:     NewExtractorAdapter(cfg),
		tracker:     tracker,
		validator:   NewOutputValidator("ffprobe"),
		history:     history,
		procs:       NewProcessTable(),
		fileOps:     utils.NewFileOperations(),
		urls:        utils.NewURLValidator(),
	}
}

// Processes exposes the active process table for the cancellation endpoint
func (o *Orchestrator) Processes() *ProcessTable {
	return o.procs
}

// Cancel terminates the in-flight download with the given id
func (o *Orchestrator) Cancel(id string) bool {
	return o.procs.Cancel(id)
}

// Tracker exposes the progress tracker for the notifier
func (o *Orchestrator) Tracker() *ProgressTracker {
	return o.tracker
}

// attemptResult is the outcome of one extractor attempt
type attemptResult struct {
	outcome       Outcome
	bytesStreamed int64
	clientGone    bool
}

// Download runs the full state machine for one request, delivering bytes to
// sink. It returns nil on success; on failure it returns a *FetchError whose
// kind and user message the HTTP layer renders.
func (o *Orchestrator) Download(ctx context.Context, req internal.DownloadRequest, sink DeliverySink) error {
	if req.DownloadID == "" {
		req.DownloadID = uuid.NewString()
	}
	id := req.DownloadID

	if err := o.validateRequest(req); err != nil {
		return err
	}

	internal.ActiveDownloads.Inc()
	defer internal.ActiveDownloads.Dec()

	buffered := o.cfg.DeliveryMode == internal.DeliveryBuffered
	outputPath := StdoutSentinel
	if buffered {
		ext := req.Ext
		if ext == "" {
			ext = "mp4"
		}
		outputPath = o.fileOps.UniqueTempPath(o.cfg.DownloadDir, id, ext)
	}

	defer func() {
		if buffered {
			o.fileOps.RemoveQuietly(outputPath)
		}
		o.procs.remove(id)
	}()

	// Merge-prone formats (combined selectors, "best" families) need the
	// container merge step and are the most likely to fail at top quality.
	mergeOutput := req.HasVideo &&
		(strings.Contains(req.FormatID, "+") || strings.Contains(req.FormatID, "best"))

	o.tracker.Update(id, 1, "Preparing download...", internal.PhasePreparing)

	format := req.FormatID
	forceRefresh := false
	var lastOutcome Outcome

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			switch lastOutcome.Kind {
			case internal.KindCorruption, internal.KindTimeout:
				format = fallbackFormat(attempt)
				internal.LogInfo("Download %s: attempt %d with fallback format %q", id, attempt, format)
			case internal.KindBotDetected:
				// Same format, fresh credentials
				internal.LogInfo("Download %s: attempt %d with refreshed credentials", id, attempt)
			}
			o.tracker.Update(id, 3, fmt.Sprintf("Retrying (attempt %d of %d)...", attempt, o.cfg.MaxRetries), internal.PhasePreparing)
		}

		bundle, _ := o.credentials.Acquire(ctx, forceRefresh)
		forceRefresh = false
		proxy := o.proxies.Pick()

		start := time.Now()
		result := o.runAttempt(ctx, req, attemptSpec{
			format:      format,
			outputPath:  outputPath,
			buffered:    buffered,
			mergeOutput: mergeOutput,
			bundle:      bundle,
			proxy:       proxy,
		}, sink)
		internal.AttemptDuration.Observe(time.Since(start).Seconds())

		if result.clientGone {
			internal.DownloadAttempts.WithLabelValues("client_gone").Inc()
			internal.DownloadsTotal.WithLabelValues("cancelled").Inc()
			o.tracker.Delete(id)
			internal.LogInfo("Download %s: client disconnected, aborting", id)
			return internal.NewFatalError("client disconnected")
		}

		if result.outcome.Success {
			if buffered {
				if err := o.deliverBuffered(id, outputPath, sink); err != nil {
					if errors.Is(err, errSinkGone) {
						internal.DownloadAttempts.WithLabelValues("client_gone").Inc()
						internal.DownloadsTotal.WithLabelValues("cancelled").Inc()
						o.tracker.Delete(id)
						internal.LogInfo("Download %s: client disconnected during delivery, aborting", id)
						return internal.NewFatalError("client disconnected")
					}
					lastOutcome = Outcome{Kind: internal.KindCorruption, Detail: err.Error()}
					internal.DownloadAttempts.WithLabelValues("corruption").Inc()
					o.fileOps.RemoveQuietly(outputPath)
					continue
				}
			}
			internal.DownloadAttempts.WithLabelValues("success").Inc()
			internal.DownloadsTotal.WithLabelValues("success").Inc()
			o.tracker.Complete(id, "Download complete")
			o.writeHistory(req, format, true, "")
			return nil
		}

		lastOutcome = result.outcome
		internal.DownloadAttempts.WithLabelValues(strings.ToLower(lastOutcome.Kind.String())).Inc()
		internal.LogWarn("Download %s: attempt %d failed (%s): %s",
			id, attempt, lastOutcome.Kind, lastOutcome.Detail)

		// Bytes already on the wire cannot be unsent; a retry would append a
		// second partial file to the same response.
		if result.bytesStreamed > 0 {
			break
		}

		switch lastOutcome.Kind {
		case internal.KindBotDetected:
			o.credentials.Invalidate()
			forceRefresh = true
		case internal.KindCorruption, internal.KindTimeout:
			if buffered {
				o.fileOps.RemoveQuietly(outputPath)
			}
		default:
			// Unavailable/fatal outcomes will not improve on retry
			attempt = o.cfg.MaxRetries
		}
	}

	return o.finalizeFailure(req, format, lastOutcome)
}

// attemptSpec bundles the per-attempt invocation parameters
type attemptSpec struct {
	format      string
	outputPath  string
	buffered    bool
	mergeOutput bool
	bundle      *internal.CredentialBundle
	proxy       string
}

func (o *Orchestrator) runAttempt(ctx context.Context, req internal.DownloadRequest, spec attemptSpec, sink DeliverySink) attemptResult {
	id := req.DownloadID

	cookiePath := ""
	if spec.bundle != nil {
		cookiePath = spec.bundle.FilePath
	}

	proc, err := o.adapter.Invoke(InvokeOptions{
		URL:            req.URL,
		FormatSelector: spec.format,
		OutputPath:     spec.outputPath,
		CookiePath:     cookiePath,
		Proxy:          spec.proxy,
		MergeOutput:    spec.mergeOutput,
	})
	if err != nil {
		return attemptResult{outcome: Outcome{Kind: internal.KindFatal, Detail: err.Error()}}
	}
	o.procs.register(id, proc)

	var killedByWatchdog atomic.Bool
	var sawActivity atomic.Bool
	var bytesStreamed atomic.Int64
	var clientGone atomic.Bool

	kill := func(timeout bool) {
		if timeout {
			killedByWatchdog.Store(true)
		}
		proc.Kill(killGrace)
	}

	overallTimer := time.AfterFunc(o.cfg.OverallTimeout, func() {
		internal.LogWarn("Download %s: overall timeout after %s", id, o.cfg.OverallTimeout)
		kill(true)
	})
	defer overallTimer.Stop()

	// The connect watchdog distinguishes "server never responded" from
	// "server is slow but working": any stdout byte or progress line defuses it.
	connectTimer := time.AfterFunc(o.cfg.ConnectTimeout, func() {
		if !sawActivity.Load() {
			internal.LogWarn("Download %s: no response within %s", id, o.cfg.ConnectTimeout)
			kill(true)
		}
	})
	defer connectTimer.Stop()

	attemptDone := make(chan struct{})
	defer close(attemptDone)

	// Client disconnect propagates through the request context
	go func() {
		select {
		case <-ctx.Done():
			clientGone.Store(true)
			kill(false)
		case <-attemptDone:
		}
	}()

	// Keep-alive heartbeat until the first media byte flows
	if !spec.buffered {
		go func() {
			ticker := time.NewTicker(o.cfg.KeepAliveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if bytesStreamed.Load() > 0 {
						return
					}
					if err := sink.KeepAlive(); err != nil {
						clientGone.Store(true)
						kill(false)
						return
					}
				case <-attemptDone:
					return
				}
			}
		}()
	}

	diagCh := make(chan string, 1)
	go func() {
		diagCh <- ScanStderr(proc.Stderr, func(ev ProgressEvent) {
			sawActivity.Store(true)
			o.tracker.Publish(id, internal.ProgressSnapshot{
				Progress: ev.Percent,
				Message:  ev.Message,
				Phase:    ev.Phase,
				Speed:    ev.Speed,
				ETA:      ev.ETA,
			})
		})
	}()

	copyCh := make(chan error, 1)
	if spec.buffered {
		go func() {
			io.Copy(io.Discard, proc.Stdout)
			copyCh <- nil
		}()
	} else {
		go func() {
			buf := make([]byte, 64*1024)
			for {
				n, rerr := proc.Stdout.Read(buf)
				if n > 0 {
					sawActivity.Store(true)
					if _, werr := sink.Write(buf[:n]); werr != nil {
						clientGone.Store(true)
						kill(false)
						copyCh <- werr
						return
					}
					bytesStreamed.Add(int64(n))
				}
				if rerr != nil {
					copyCh <- nil
					return
				}
			}
		}()
	}

	diagnostics := <-diagCh
	<-copyCh
	exitCode, waitErr := proc.Wait()
	if waitErr != nil {
		return attemptResult{
			outcome:       Outcome{Kind: internal.KindFatal, Detail: waitErr.Error()},
			bytesStreamed: bytesStreamed.Load(),
			clientGone:    clientGone.Load(),
		}
	}

	return attemptResult{
		outcome:       classify(diagnostics, exitCode, killedByWatchdog.Load()),
		bytesStreamed: bytesStreamed.Load(),
		clientGone:    clientGone.Load(),
	}
}

// deliverBuffered validates the completed output file and copies it to the
// sink with its size announced up front.
func (o *Orchestrator) deliverBuffered(id, outputPath string, sink DeliverySink) error {
	o.tracker.Update(id, 93, "Validating download...", internal.PhaseValidating)
	if err := o.validator.Validate(outputPath); err != nil {
		return err
	}

	size, err := o.fileOps.GetFileSize(outputPath)
	if err != nil {
		return internal.NewCorruptionError("output file vanished before delivery")
	}

	o.tracker.Update(id, 97, "Transferring file...", internal.PhaseProcessing)
	if err := sink.Start(size); err != nil {
		return fmt.Errorf("%w: %v", errSinkGone, err)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		return internal.NewCorruptionError("output file unreadable")
	}
	defer f.Close()

	if _, err := io.Copy(sink, f); err != nil {
		return fmt.Errorf("%w: %v", errSinkGone, err)
	}
	return nil
}

func (o *Orchestrator) validateRequest(req internal.DownloadRequest) error {
	if err := o.urls.ValidateURL(req.URL); err != nil {
		return internal.NewInvalidInputError(err.Error()).WithURL(req.URL)
	}
	if strings.TrimSpace(req.FormatID) == "" {
		return internal.NewInvalidInputError("format selector must not be empty")
	}
	return nil
}

// finalizeFailure records the terminal failure in history, the tracker, and
// metrics, then returns the error the HTTP layer renders.
func (o *Orchestrator) finalizeFailure(req internal.DownloadRequest, format string, outcome Outcome) error {
	err := internal.NewFetchError(0, outcome.Detail, outcome.Kind).WithURL(req.URL)

	phase := internal.PhaseError
	if outcome.Kind == internal.KindTimeout {
		phase = internal.PhaseTimeout
	}
	o.tracker.Fail(req.DownloadID, err.UserMessage(), phase)

	internal.DownloadsTotal.WithLabelValues("failure").Inc()
	o.writeHistory(req, format, false, outcome.Detail)
	internal.LogFetchError(err)
	return err
}

// writeHistory appends a history entry. Store failures are logged and
// swallowed: they must never turn a delivered download into an error.
func (o *Orchestrator) writeHistory(req internal.DownloadRequest, format string, success bool, errText string) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := internal.HistoryEntry{
		URL:       req.URL,
		Title:     req.Title,
		Format:    format,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
		Success:   success,
		Error:     errText,
		CreatedAt: time.Now(),
	}
	if err := o.history.AppendHistory(ctx, entry); err != nil {
		internal.LogWarn("Failed to record history entry: %v", err)
	}
}

// fallbackFormat is the quality ladder applied after corruption or timeout
func fallbackFormat(attempt int) string {
	switch attempt {
	case 2:
		return "best[height<=720]"
	case 3:
		return "best[height<=480]"
	default:
		return "best"
	}
}
