package downloader

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fetchtube/internal"
)

func testAdapter() *ExtractorAdapter {
	cfg := internal.DefaultConfig()
	return NewExtractorAdapter(cfg)
}

func argsContainPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func argsContain(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestBuildArgsStreaming(t *testing.T) {
	adapter := testAdapter()
	args := adapter.BuildArgs(InvokeOptions{
		URL:            "https://www.youtube.com/watch?v=abc",
		FormatSelector: "18",
		OutputPath:     StdoutSentinel,
	})

	if !argsContainPair(args, "-f", "18") {
		t.Error("missing format selector")
	}
	if !argsContainPair(args, "-o", "-") {
		t.Error("missing stdout sentinel output")
	}
	if !argsContainPair(args, "--concurrent-fragments", "1") {
		t.Error("fragment concurrency must stay at 1")
	}
	if !argsContain(args, "--newline") {
		t.Error("missing --newline for line-buffered progress")
	}
	if args[len(args)-1] != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("URL must be the final argument, got %q", args[len(args)-1])
	}
	if argsContain(args, "--cookies") {
		t.Error("cookie flag present without a cookie path")
	}
	if argsContain(args, "--proxy") {
		t.Error("proxy flag present without a proxy")
	}
}

func TestBuildArgsCookieFileOnlyWhenUsable(t *testing.T) {
	adapter := testAdapter()
	dir := t.TempDir()

	// Missing file: flag omitted
	args := adapter.BuildArgs(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
		CookiePath:     filepath.Join(dir, "missing.txt"),
	})
	if argsContain(args, "--cookies") {
		t.Error("cookie flag set for missing file")
	}

	// Empty file: flag omitted
	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}
	args = adapter.BuildArgs(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
		CookiePath:     empty,
	})
	if argsContain(args, "--cookies") {
		t.Error("cookie flag set for empty file")
	}

	// Usable file: passed via the file flag, never a header
	usable := filepath.Join(dir, "cookies.txt")
	if err := os.WriteFile(usable, []byte("# Netscape HTTP Cookie File\n"), 0600); err != nil {
		t.Fatal(err)
	}
	args = adapter.BuildArgs(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
		CookiePath:     usable,
	})
	if !argsContainPair(args, "--cookies", usable) {
		t.Error("cookie file flag missing for usable file")
	}
	for _, a := range args {
		if strings.Contains(strings.ToLower(a), "cookie:") {
			t.Errorf("credentials leaked via header-style argument: %q", a)
		}
	}
}

func TestBuildArgsProxyAndMerge(t *testing.T) {
	adapter := testAdapter()
	args := adapter.BuildArgs(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "bestvideo+bestaudio",
		OutputPath:     "/tmp/out.mp4",
		Proxy:          "socks5://proxy:1080",
		MergeOutput:    true,
	})

	if !argsContainPair(args, "--proxy", "socks5://proxy:1080") {
		t.Error("missing proxy flag")
	}
	if !argsContainPair(args, "--merge-output-format", "mp4") {
		t.Error("missing merge output flag")
	}
	if !argsContain(args, "--embed-metadata") {
		t.Error("missing metadata flag for merged output")
	}
}

func TestParseLineDownloadPercent(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPercent float64
		wantPhase   internal.Phase
		wantSpeed   string
		wantETA     string
	}{
		{
			"zero percent",
			"[download]   0.0% of 10.00MiB at 1.00MiB/s ETA 00:10",
			5.0, internal.PhaseDownloading, "1.00MiB/s", "00:10",
		},
		{
			"midway",
			"[download]  50.0% of 10.00MiB at 2.50MiB/s ETA 00:02",
			45.0, internal.PhaseDownloading, "2.50MiB/s", "00:02",
		},
		{
			"complete",
			"[download] 100% of 10.00MiB in 00:04",
			85.0, internal.PhaseDownloading, "", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewProgressParser()
			ev, ok := parser.ParseLine(tt.line)
			if !ok {
				t.Fatalf("ParseLine(%q) not recognized", tt.line)
			}
			if ev.Percent != tt.wantPercent {
				t.Errorf("Percent = %v, want %v", ev.Percent, tt.wantPercent)
			}
			if ev.Phase != tt.wantPhase {
				t.Errorf("Phase = %v, want %v", ev.Phase, tt.wantPhase)
			}
			if ev.Speed != tt.wantSpeed {
				t.Errorf("Speed = %q, want %q", ev.Speed, tt.wantSpeed)
			}
			if ev.ETA != tt.wantETA {
				t.Errorf("ETA = %q, want %q", ev.ETA, tt.wantETA)
			}
		})
	}
}

func TestParseLinePhaseMarkers(t *testing.T) {
	tests := []struct {
		line      string
		wantPhase internal.Phase
	}{
		{"[download] Destination: /tmp/video.mp4", internal.PhaseDownloading},
		{"[Merger] Merging formats into \"/tmp/video.mp4\"", internal.PhaseMerging},
		{"[ExtractAudio] Destination: /tmp/audio.mp3", internal.PhaseConverting},
		{"[VideoRemuxer] Remuxing video", internal.PhaseConverting},
		{"[Metadata] Adding metadata to \"/tmp/video.mp4\"", internal.PhaseProcessing},
		{"[info] abc: Downloading 1 format(s): 18", internal.PhasePreparing},
		{"[youtube] abc: Downloading webpage", internal.PhasePreparing},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			parser := NewProgressParser()
			ev, ok := parser.ParseLine(tt.line)
			if !ok {
				t.Fatalf("ParseLine(%q) not recognized", tt.line)
			}
			if ev.Phase != tt.wantPhase {
				t.Errorf("Phase = %v, want %v", ev.Phase, tt.wantPhase)
			}
		})
	}
}

func TestParseLineFragmentMessage(t *testing.T) {
	parser := NewProgressParser()
	ev, ok := parser.ParseLine("[download]  33.3% of ~30.00MiB at  3.00MiB/s ETA 00:07 (frag 40/120)")
	if !ok {
		t.Fatal("fragment line not recognized")
	}
	if !strings.Contains(ev.Message, "40") || !strings.Contains(ev.Message, "120") {
		t.Errorf("Message = %q, want fragment counts", ev.Message)
	}
}

func TestParseLineIgnoresNoise(t *testing.T) {
	parser := NewProgressParser()
	noise := []string{
		"",
		"WARNING: some warning text",
		"ERROR: Sign in to confirm you're not a bot",
		"random stderr garbage",
	}
	for _, line := range noise {
		if _, ok := parser.ParseLine(line); ok {
			t.Errorf("ParseLine(%q) recognized as progress", line)
		}
	}
}

func TestScanStderrCollectsDiagnostics(t *testing.T) {
	stream := strings.Join([]string{
		"[youtube] abc: Downloading webpage",
		"[download] Destination: /tmp/video.mp4",
		"[download]  50.0% of 10.00MiB at 2.50MiB/s ETA 00:02",
		"ERROR: Sign in to confirm you're not a bot",
		"[download] 100% of 10.00MiB in 00:04",
	}, "\n")

	var events []ProgressEvent
	diagnostics := ScanStderr(strings.NewReader(stream), func(ev ProgressEvent) {
		events = append(events, ev)
	})

	if len(events) != 4 {
		t.Errorf("got %d events, want 4", len(events))
	}
	if !strings.Contains(diagnostics, "Sign in to confirm") {
		t.Errorf("diagnostics = %q, missing error line", diagnostics)
	}
	if strings.Contains(diagnostics, "[download]") {
		t.Error("progress lines leaked into diagnostics")
	}
}

func TestInvokeAndWait(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-extractor")
	body := "#!/bin/sh\necho '[download]  50.0% of 1.00MiB at 1.00MiB/s ETA 00:01' >&2\nexit 0\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := internal.DefaultConfig()
	cfg.ExtractorBin = script
	adapter := NewExtractorAdapter(cfg)

	proc, err := adapter.Invoke(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var sawProgress bool
	ScanStderr(proc.Stderr, func(ev ProgressEvent) {
		sawProgress = true
	})

	code, err := proc.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !sawProgress {
		t.Error("no progress events parsed from stderr")
	}
}

func TestKillEscalates(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stubborn")
	// Ignores SIGTERM, must be SIGKILLed
	body := "#!/bin/sh\ntrap '' TERM\nsleep 60\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := internal.DefaultConfig()
	cfg.ExtractorBin = script
	adapter := NewExtractorAdapter(cfg)

	proc, err := adapter.Invoke(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		proc.Kill(100 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Kill did not return")
	}
}

func TestKillTerminatesHelperChildren(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "spawner")
	// The helper child inherits the output pipes, like the merge helpers
	// the real extractor forks
	body := "#!/bin/sh\nsleep 30 &\nwait\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	cfg := internal.DefaultConfig()
	cfg.ExtractorBin = script
	adapter := NewExtractorAdapter(cfg)

	proc, err := adapter.Invoke(InvokeOptions{
		URL:            "https://youtu.be/abc",
		FormatSelector: "best",
		OutputPath:     StdoutSentinel,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		io.Copy(io.Discard, proc.Stdout)
		io.Copy(io.Discard, proc.Stderr)
		close(drained)
	}()

	// Give the script a moment to fork its child before terminating it
	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	go proc.Kill(500 * time.Millisecond)

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("output pipes still open after Kill, helper child survived")
	}

	if code, err := proc.Wait(); err != nil || code == 0 {
		t.Errorf("Wait = (%d, %v), want signal exit", code, err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("teardown took %v", elapsed)
	}
}
