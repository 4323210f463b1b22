package downloader

import (
	"strings"

	"fetchtube/internal"
)

// Phrase tables for classifying extractor diagnostics. Matching is
// case-insensitive substring search over the accumulated stderr text.
var (
	botDetectionPhrases = []string{
		"sign in to confirm",
		"confirm you're not a bot",
		"consent",
		"captcha",
		"unusual traffic",
		"http error 403",
		"http error 429",
		"too many requests",
		"access denied",
	}

	unavailablePhrases = []string{
		"video unavailable",
		"this video is private",
		"private video",
		"has been removed",
		"no longer available",
		"not available in your country",
		"blocked it in your country",
		"age-restricted",
		"age restricted",
		"members-only",
		"this live event",
	}

	corruptionPhrases = []string{
		"unable to download video data",
		"fragment not found",
		"error in fragment",
		"content too short",
		"downloaded file is corrupt",
		"unable to rename file",
		"postprocessing",
	}
)

// Outcome is the classified result of one extractor attempt
type Outcome struct {
	Success bool
	Kind    internal.ErrorKind
	// Detail is a short human-readable reason for logs and history
	Detail string
}

// classify maps an attempt's exit code and accumulated diagnostics to an
// error kind. This is the single decision point for retry behavior: the
// orchestrator acts purely on the returned kind.
//
// killedByWatchdog takes precedence over phrase matching because a watchdog
// kill produces arbitrary truncated diagnostics.
func classify(diagnostics string, exitCode int, killedByWatchdog bool) Outcome {
	if killedByWatchdog {
		return Outcome{Kind: internal.KindTimeout, Detail: "attempt exceeded its time budget"}
	}
	if exitCode == 0 {
		return Outcome{Success: true}
	}

	lower := strings.ToLower(diagnostics)

	for _, phrase := range unavailablePhrases {
		if strings.Contains(lower, phrase) {
			return Outcome{Kind: internal.KindUnavailable, Detail: firstDiagnosticLine(diagnostics)}
		}
	}
	for _, phrase := range botDetectionPhrases {
		if strings.Contains(lower, phrase) {
			return Outcome{Kind: internal.KindBotDetected, Detail: firstDiagnosticLine(diagnostics)}
		}
	}
	for _, phrase := range corruptionPhrases {
		if strings.Contains(lower, phrase) {
			return Outcome{Kind: internal.KindCorruption, Detail: firstDiagnosticLine(diagnostics)}
		}
	}

	return Outcome{Kind: internal.KindFatal, Detail: firstDiagnosticLine(diagnostics)}
}

// firstDiagnosticLine extracts the first ERROR line, or failing that the
// first non-empty line, as a compact reason string.
func firstDiagnosticLine(diagnostics string) string {
	var fallback string
	for _, line := range strings.Split(diagnostics, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
		if fallback == "" {
			fallback = line
		}
	}
	if fallback == "" {
		return "extractor exited with an error"
	}
	return fallback
}
