package downloader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"fetchtube/internal"
)

// StdoutSentinel tells the extractor to write media bytes to stdout
const StdoutSentinel = "-"

// InvokeOptions describes one extractor invocation
type InvokeOptions struct {
	URL            string
	FormatSelector string
	// OutputPath is a file path, or StdoutSentinel for streaming mode
	OutputPath string
	CookiePath string
	Proxy      string
	// MergeOutput requests a video+audio merge into a single container
	MergeOutput bool
}

// ExtractorAdapter builds command lines for the external extractor binary
// and spawns it with stdout and stderr as independent streams.
type ExtractorAdapter struct {
	binary string
}

// NewExtractorAdapter creates an adapter for the configured binary
func NewExtractorAdapter(cfg *internal.Config) *ExtractorAdapter {
	return &ExtractorAdapter{binary: cfg.ExtractorBin}
}

// BuildArgs assembles the argument list for one invocation.
//
// Fragment concurrency stays at 1: concurrent fragment writes to the same
// destination race and corrupt output. Credentials are only ever passed via
// the cookie-file flag; the header form is deprecated by the extractor and
// pollutes diagnostics with warnings.
func (a *ExtractorAdapter) BuildArgs(opts InvokeOptions) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--concurrent-fragments", "1",
		"--retries", "3",
		"--fragment-retries", "3",
		"--socket-timeout", "30",
		"--http-chunk-size", "10M",
		"-f", opts.FormatSelector,
		"-o", opts.OutputPath,
	}

	if opts.CookiePath != "" {
		if info, err := os.Stat(opts.CookiePath); err == nil && info.Size() > 0 {
			args = append(args, "--cookies", opts.CookiePath)
		} else {
			internal.LogDebug("Cookie file %s unusable, invoking without credentials", opts.CookiePath)
		}
	}

	if opts.Proxy != "" {
		args = append(args, "--proxy", opts.Proxy)
	}

	if opts.MergeOutput {
		args = append(args, "--merge-output-format", "mp4", "--embed-metadata")
	}

	args = append(args, opts.URL)
	return args
}

// Invoke spawns the extractor. The caller owns the returned process and must
// call Wait (and Kill on timeout) on it.
func (a *ExtractorAdapter) Invoke(opts InvokeOptions) (*ExtractorProcess, error) {
	args := a.BuildArgs(opts)
	cmd := exec.Command(a.binary, args...)
	// Own process group: the extractor forks merge/convert helpers that
	// inherit the output pipes, and Kill must reach all of them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, internal.NewFatalError(fmt.Sprintf("failed to open stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, internal.NewFatalError(fmt.Sprintf("failed to open stderr pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, internal.NewFatalError(fmt.Sprintf("failed to start extractor: %v", err))
	}

	internal.LogDebug("Extractor spawned: pid=%d args=%v", cmd.Process.Pid, args)

	return &ExtractorProcess{
		cmd:    cmd,
		Stdout: stdout,
		Stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

// ExtractorProcess is a handle on a running extractor subprocess
type ExtractorProcess struct {
	cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	waitOnce sync.Once
	exited   chan struct{}
	exitCode int
	waitErr  error
}

// Pid returns the subprocess pid
func (p *ExtractorProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the subprocess exits and returns its exit code.
// A negative code means the process was killed by a signal. Safe to call
// from multiple goroutines; only the first invocation reaps the process.
func (p *ExtractorProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		defer close(p.exited)
		err := p.cmd.Wait()
		if err == nil {
			return
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
			return
		}
		p.exitCode = -1
		p.waitErr = err
	})
	<-p.exited
	return p.exitCode, p.waitErr
}

// Kill sends SIGTERM to the extractor's whole process group and escalates to
// a group SIGKILL once the grace window passes. A surviving helper child
// would otherwise hold the output pipes open long after the direct child is
// gone. The closing SIGKILL also sweeps up stragglers when the group went
// down on SIGTERM alone. Reaping is left to Wait.
func (p *ExtractorProcess) Kill(grace time.Duration) {
	if p.cmd.Process == nil {
		return
	}
	pgid := p.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return
	}

	select {
	case <-p.exited:
	case <-time.After(grace):
		internal.LogWarn("Extractor pgid=%d ignored SIGTERM, killing group", pgid)
	}
	syscall.Kill(-pgid, syscall.SIGKILL)
}

// ProgressEvent is one normalized progress update parsed from the
// extractor's diagnostic stream.
type ProgressEvent struct {
	Percent float64
	Message string
	Phase   internal.Phase
	Speed   string
	ETA     string
}

// Progress scaling: the raw download percent occupies 5-85 so the later
// merge/convert/validate/transfer phases have visible headroom.
const (
	progressFloor   = 5.0
	downloadCeiling = 85.0
	mergePercent    = 87.0
	convertPercent  = 93.0
	processPercent  = 97.0
)

var (
	downloadLineRe = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
	speedRe        = regexp.MustCompile(`at\s+(\S+/s)`)
	etaRe          = regexp.MustCompile(`ETA\s+(\S+)`)
	fragmentRe     = regexp.MustCompile(`\(frag\s+(\d+)/(\d+)\)`)
)

// ProgressParser turns extractor diagnostic lines into progress events.
// It remembers whether a merge was announced so the convert phase maps to
// the right label.
type ProgressParser struct {
	sawMerge bool
}

// NewProgressParser creates a parser for one invocation's stderr stream
func NewProgressParser() *ProgressParser {
	return &ProgressParser{}
}

// ParseLine maps one diagnostic line to a progress event. The second return
// is false for lines that carry no progress information.
func (pp *ProgressParser) ParseLine(line string) (ProgressEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ProgressEvent{}, false
	}

	if m := downloadLineRe.FindStringSubmatch(line); m != nil {
		raw, err := strconv.ParseFloat(m[1], 64)
		if err != nil || raw < 0 || raw > 100 {
			return ProgressEvent{}, false
		}
		ev := ProgressEvent{
			Percent: progressFloor + raw*(downloadCeiling-progressFloor)/100.0,
			Message: "Downloading media...",
			Phase:   internal.PhaseDownloading,
		}
		if m := speedRe.FindStringSubmatch(line); m != nil {
			ev.Speed = m[1]
		}
		if m := etaRe.FindStringSubmatch(line); m != nil {
			ev.ETA = m[1]
		}
		if m := fragmentRe.FindStringSubmatch(line); m != nil {
			ev.Message = fmt.Sprintf("Downloading fragment %s of %s...", m[1], m[2])
		}
		return ev, true
	}

	switch {
	case strings.HasPrefix(line, "[download] Destination:"):
		return ProgressEvent{
			Percent: progressFloor,
			Message: "Starting download...",
			Phase:   internal.PhaseDownloading,
		}, true

	case strings.HasPrefix(line, "[Merger]"):
		pp.sawMerge = true
		return ProgressEvent{
			Percent: mergePercent,
			Message: "Merging video and audio...",
			Phase:   internal.PhaseMerging,
		}, true

	case strings.HasPrefix(line, "[ExtractAudio]"),
		strings.HasPrefix(line, "[VideoConvertor]"),
		strings.HasPrefix(line, "[VideoRemuxer]"),
		strings.HasPrefix(line, "[ffmpeg]"):
		msg := "Converting media..."
		if pp.sawMerge {
			msg = "Finalizing merged file..."
		}
		return ProgressEvent{
			Percent: convertPercent,
			Message: msg,
			Phase:   internal.PhaseConverting,
		}, true

	case strings.HasPrefix(line, "[Metadata]"), strings.HasPrefix(line, "[EmbedThumbnail]"):
		return ProgressEvent{
			Percent: processPercent,
			Message: "Embedding metadata...",
			Phase:   internal.PhaseProcessing,
		}, true

	case strings.HasPrefix(line, "[info]"), strings.HasPrefix(line, "[youtube]"):
		return ProgressEvent{
			Percent: 2,
			Message: "Preparing download...",
			Phase:   internal.PhasePreparing,
		}, true
	}

	return ProgressEvent{}, false
}

// ScanStderr reads the diagnostic stream line by line, invoking onEvent for
// every progress event and collecting non-progress lines as diagnostics for
// later classification. It returns when the stream closes.
func ScanStderr(r io.Reader, onEvent func(ProgressEvent)) string {
	parser := NewProgressParser()
	var diagnostics strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ev, ok := parser.ParseLine(line); ok {
			if onEvent != nil {
				onEvent(ev)
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		diagnostics.WriteString(line)
		diagnostics.WriteString("\n")
	}
	return diagnostics.String()
}
