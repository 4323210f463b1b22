package downloader

import (
	"testing"

	"fetchtube/internal"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics string
		exitCode    int
		killed      bool
		wantSuccess bool
		wantKind    internal.ErrorKind
	}{
		{
			name:        "clean exit",
			diagnostics: "",
			exitCode:    0,
			wantSuccess: true,
		},
		{
			name:        "clean exit with warnings",
			diagnostics: "WARNING: unable to embed thumbnail",
			exitCode:    0,
			wantSuccess: true,
		},
		{
			name:        "watchdog kill overrides diagnostics",
			diagnostics: "ERROR: Sign in to confirm you're not a bot",
			exitCode:    -1,
			killed:      true,
			wantKind:    internal.KindTimeout,
		},
		{
			name:        "sign-in wall",
			diagnostics: "ERROR: Sign in to confirm you're not a bot. Use --cookies for authentication",
			exitCode:    1,
			wantKind:    internal.KindBotDetected,
		},
		{
			name:        "captcha",
			diagnostics: "ERROR: unable to download webpage: CAPTCHA required",
			exitCode:    1,
			wantKind:    internal.KindBotDetected,
		},
		{
			name:        "http 403",
			diagnostics: "ERROR: unable to download video data: HTTP Error 403: Forbidden",
			exitCode:    1,
			wantKind:    internal.KindBotDetected,
		},
		{
			name:        "http 429",
			diagnostics: "ERROR: HTTP Error 429: Too Many Requests",
			exitCode:    1,
			wantKind:    internal.KindBotDetected,
		},
		{
			name:        "private video",
			diagnostics: "ERROR: This video is private",
			exitCode:    1,
			wantKind:    internal.KindUnavailable,
		},
		{
			name:        "removed video",
			diagnostics: "ERROR: Video unavailable. This video has been removed by the uploader",
			exitCode:    1,
			wantKind:    internal.KindUnavailable,
		},
		{
			name:        "geo block",
			diagnostics: "ERROR: The uploader has not made this video available in your country",
			exitCode:    1,
			wantKind:    internal.KindUnavailable,
		},
		{
			name:        "age restriction",
			diagnostics: "ERROR: This video is age-restricted; sign in to confirm your age",
			exitCode:    1,
			wantKind:    internal.KindUnavailable,
		},
		{
			name:        "fragment errors",
			diagnostics: "ERROR: fragment not found; unable to continue",
			exitCode:    1,
			wantKind:    internal.KindCorruption,
		},
		{
			name:        "content too short",
			diagnostics: "ERROR: Did not get any data blocks: content too short",
			exitCode:    1,
			wantKind:    internal.KindCorruption,
		},
		{
			name:        "unknown failure",
			diagnostics: "ERROR: something entirely novel went wrong",
			exitCode:    1,
			wantKind:    internal.KindFatal,
		},
		{
			name:        "nonzero exit without diagnostics",
			diagnostics: "",
			exitCode:    2,
			wantKind:    internal.KindFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.diagnostics, tt.exitCode, tt.killed)
			if got.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", got.Success, tt.wantSuccess)
			}
			if !tt.wantSuccess && got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestClassifyUnavailableWinsOverBotPhrases(t *testing.T) {
	// Age restriction messages also contain "sign in"; the unavailable
	// classification must win so the request is not pointlessly retried.
	got := classify("ERROR: This video is age-restricted. Sign in to confirm your age", 1, false)
	if got.Kind != internal.KindUnavailable {
		t.Errorf("Kind = %v, want Unavailable", got.Kind)
	}
}

func TestFirstDiagnosticLine(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics string
		want        string
	}{
		{"error line preferred", "WARNING: noise\nERROR: the real reason\nmore noise", "the real reason"},
		{"fallback to first line", "some stderr text\nanother line", "some stderr text"},
		{"empty input", "", "extractor exited with an error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstDiagnosticLine(tt.diagnostics); got != tt.want {
				t.Errorf("firstDiagnosticLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
