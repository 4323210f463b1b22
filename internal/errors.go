package internal

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a download failure for retry and messaging decisions
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota
	KindRateLimited
	KindBotDetected
	KindCorruption
	KindTimeout
	KindUnavailable
	KindFatal
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// FetchError represents a download-pipeline error with enough detail to pick
// a retry strategy and a user-facing message.
type FetchError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Kind       ErrorKind              `json:"kind"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *FetchError) Error() string {
	parts := []string{fmt.Sprintf("fetch error (code: %d, kind: %s)", e.Code, e.Kind.String())}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed error message with all available information
func (e *FetchError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Kind.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}

	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindRateLimited:
		return "RateLimited"
	case KindBotDetected:
		return "BotDetected"
	case KindCorruption:
		return "Corruption"
	case KindTimeout:
		return "Timeout"
	case KindUnavailable:
		return "Unavailable"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewFetchError creates a new FetchError with default suggestion and severity
// for the given kind.
func NewFetchError(code int, message string, kind ErrorKind) *FetchError {
	return &FetchError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		Severity:   defaultSeverity(kind),
		Suggestion: defaultSuggestion(kind),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *FetchError) WithSuggestion(suggestion string) *FetchError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (redacted in logs)
func (e *FetchError) WithURL(url string) *FetchError {
	e.URL = url
	return e
}

// WithContext adds context information to the error
func (e *FetchError) WithContext(key string, value interface{}) *FetchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether another attempt has a realistic chance of
// succeeding. Bot detection retries with fresh credentials; corruption and
// timeout retry with a degraded format. Everything else stops the ladder.
func (e *FetchError) IsRetryable() bool {
	switch e.Kind {
	case KindBotDetected, KindCorruption, KindTimeout:
		return true
	default:
		return false
	}
}

// UserMessage returns the message shown to the end user for this error.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case KindBotDetected:
		return "The video site is blocking automated downloads right now. Please try again in a few minutes."
	case KindCorruption:
		return "The downloaded file was corrupted. Try a lower quality format."
	case KindTimeout:
		return "The download timed out. Try again or pick a smaller format."
	case KindRateLimited:
		return "Too many requests. Please wait before trying again."
	case KindUnavailable:
		if e.Message != "" {
			return e.Message
		}
		return "This video is not available for download."
	case KindInvalidInput:
		return e.Message
	default:
		return "Download failed due to an unexpected error. Please try again."
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string      `json:"field"`
	Message    string      `json:"message"`
	Value      interface{} `json:"value,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// WithValue attaches the offending value to the validation error
func (e *ValidationError) WithValue(value interface{}) *ValidationError {
	e.Value = value
	return e
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// defaultSuggestion returns a default suggestion based on error kind
func defaultSuggestion(kind ErrorKind) string {
	switch kind {
	case KindInvalidInput:
		return "Provide a valid video URL (e.g., https://www.youtube.com/watch?v=...) and a non-empty format selector"
	case KindRateLimited:
		return "Wait for the rate-limit window to pass before retrying"
	case KindBotDetected:
		return "The origin site flagged the request as automated; retry later or refresh the cookie source"
	case KindCorruption:
		return "Retry with a lower quality format (720p or below)"
	case KindTimeout:
		return "Retry the download; consider a smaller format if the problem persists"
	case KindUnavailable:
		return "Verify the video still exists and is publicly accessible"
	default:
		return "Check the server logs for details and try again"
	}
}

// defaultSeverity returns the default severity for an error kind
func defaultSeverity(kind ErrorKind) ErrorSeverity {
	switch kind {
	case KindRateLimited, KindTimeout, KindBotDetected:
		return SeverityWarning
	case KindFatal:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts query parameters that might contain tokens
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.Split(url, "?")
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// Common error constructors

// NewInvalidInputError creates an error for malformed request input
func NewInvalidInputError(message string) *FetchError {
	return NewFetchError(400, message, KindInvalidInput)
}

// NewRateLimitError creates an error for per-client rate limiting
func NewRateLimitError(window string) *FetchError {
	return NewFetchError(429, "Rate limit exceeded", KindRateLimited).
		WithSuggestion(fmt.Sprintf("Please wait %s before retrying", window))
}

// NewBotDetectedError creates an error for origin-site blocking
func NewBotDetectedError(diagnostic string) *FetchError {
	return NewFetchError(403, "Origin site blocked the request", KindBotDetected).
		WithContext("diagnostic", diagnostic)
}

// NewCorruptionError creates an error for missing or invalid output
func NewCorruptionError(reason string) *FetchError {
	return NewFetchError(422, fmt.Sprintf("Output validation failed: %s", reason), KindCorruption)
}

// NewTimeoutError creates an error for watchdog-killed downloads
func NewTimeoutError(stage string) *FetchError {
	return NewFetchError(408, fmt.Sprintf("Download timed out during %s", stage), KindTimeout)
}

// NewUnavailableError creates an error for videos that cannot be fetched at
// all (removed, private, region-blocked, age-restricted).
func NewUnavailableError(message string) *FetchError {
	return NewFetchError(404, message, KindUnavailable)
}

// NewFatalError creates an error for unexpected failures that must not retry
func NewFatalError(message string) *FetchError {
	return NewFetchError(500, message, KindFatal)
}
