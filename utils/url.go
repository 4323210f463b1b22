package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"fetchtube/internal"
)

// URLInfo contains parsed information from a supported video URL
type URLInfo struct {
	OriginalURL string
	Domain      string
	VideoID     string
	Timestamp   string
}

// URLValidator handles URL validation and parsing for the supported site
// family (YouTube and its aliases).
type URLValidator struct {
	allowedDomains []string
}

// NewURLValidator creates a new URL validator with the supported domains
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedDomains: []string{
			"youtube.com",
			"www.youtube.com",
			"m.youtube.com",
			"music.youtube.com",
			"youtube-nocookie.com",
			"www.youtube-nocookie.com",
			"youtu.be",
		},
	}
}

// ValidateURL validates if the URL is from an allowed domain
func (v *URLValidator) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return internal.NewValidationError("url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationError("url", "URL must use http or https protocol")
	}

	host := strings.ToLower(parsedURL.Hostname())
	for _, allowed := range v.allowedDomains {
		if host == allowed {
			return nil
		}
	}

	return internal.NewInvalidInputError(
		fmt.Sprintf("URL must be from a supported video site, got: %s", host),
	).WithURL(rawURL)
}

// ParseURL validates the URL and extracts the video identifier
func (v *URLValidator) ParseURL(rawURL string) (*URLInfo, error) {
	if err := v.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, internal.NewValidationError("url", fmt.Sprintf("failed to parse URL: %v", err))
	}

	info := &URLInfo{
		OriginalURL: rawURL,
		Domain:      strings.ToLower(parsedURL.Hostname()),
	}

	switch {
	case info.Domain == "youtu.be":
		// Short link path is /VIDEO_ID
		info.VideoID = strings.TrimPrefix(parsedURL.Path, "/")
		info.Timestamp = parsedURL.Query().Get("t")

	case strings.HasPrefix(parsedURL.Path, "/watch"):
		info.VideoID = parsedURL.Query().Get("v")
		info.Timestamp = parsedURL.Query().Get("t")

	case strings.HasPrefix(parsedURL.Path, "/shorts/"), strings.HasPrefix(parsedURL.Path, "/live/"):
		parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
		if len(parts) >= 2 {
			info.VideoID = parts[1]
		}

	case strings.HasPrefix(parsedURL.Path, "/embed/"):
		info.VideoID = path.Base(parsedURL.Path)
		if start := parsedURL.Query().Get("start"); start != "" {
			info.Timestamp = start + "s"
		}
	}

	if info.VideoID == "" {
		return nil, internal.NewInvalidInputError("unable to extract a video id from URL").WithURL(rawURL)
	}

	return info, nil
}

// CanonicalURL normalizes any supported URL shape to the standard watch form,
// keeping only the video id and optional timestamp.
func (info *URLInfo) CanonicalURL() string {
	q := url.Values{}
	q.Set("v", info.VideoID)
	if info.Timestamp != "" {
		q.Set("t", info.Timestamp)
	}
	u := url.URL{
		Scheme:   "https",
		Host:     "www.youtube.com",
		Path:     "/watch",
		RawQuery: q.Encode(),
	}
	return u.String()
}

// String returns a string representation of the URLInfo
func (info *URLInfo) String() string {
	return fmt.Sprintf("URLInfo{Domain: %s, VideoID: %s}", info.Domain, info.VideoID)
}
