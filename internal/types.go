package internal

import "time"

// DownloadRequest describes one client-initiated download. It is created on
// request receipt and never mutated afterwards.
type DownloadRequest struct {
	URL        string `json:"url"`
	FormatID   string `json:"formatId"`
	Title      string `json:"title"`
	Ext        string `json:"ext"`
	HasVideo   bool   `json:"hasVideo"`
	DownloadID string `json:"downloadId"`
	ClientIP   string `json:"-"`
	UserAgent  string `json:"-"`
}

// Phase identifies where a download currently is in its lifecycle.
type Phase string

const (
	PhasePreparing   Phase = "preparing"
	PhaseDownloading Phase = "downloading"
	PhaseMerging     Phase = "merging"
	PhaseConverting  Phase = "converting"
	PhaseValidating  Phase = "validating"
	PhaseProcessing  Phase = "processing"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
	PhaseTimeout     Phase = "timeout"
)

// ProgressSnapshot is the latest known state of one download, keyed by its
// correlation id. Progress is monotonically non-decreasing within one
// request's lifetime.
type ProgressSnapshot struct {
	Progress  float64 `json:"progress"`
	Message   string  `json:"message"`
	Phase     Phase   `json:"phase"`
	Speed     string  `json:"speed,omitempty"`
	ETA       string  `json:"eta,omitempty"`
	Error     string  `json:"error,omitempty"`
	Completed bool    `json:"completed"`
	FileReady bool    `json:"fileReady"`
}

// CredentialBundle is the cached cookie payload plus its materialized temp
// file, shared by all concurrent downloads.
type CredentialBundle struct {
	Content      string
	FilePath     string
	FetchedAt    time.Time
	Valid        bool
	FromCache    bool
	UsedFallback bool
}

// HistoryEntry is one persisted record of a completed or failed download.
type HistoryEntry struct {
	ID        int64     `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	Title     string    `json:"title" db:"title"`
	Format    string    `json:"format" db:"format"`
	ClientIP  string    `json:"clientIp" db:"client_ip"`
	UserAgent string    `json:"userAgent" db:"user_agent"`
	Success   bool      `json:"success" db:"success"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// FormatInfo describes one downloadable rendition of a video.
type FormatInfo struct {
	FormatID   string `json:"formatId"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	Filesize   int64  `json:"filesize,omitempty"`
	HasVideo   bool   `json:"hasVideo"`
	HasAudio   bool   `json:"hasAudio"`
	Note       string `json:"note,omitempty"`
}

// VideoInfo is the metadata returned by the fetch-info operation.
type VideoInfo struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Duration  float64      `json:"duration"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Uploader  string       `json:"uploader,omitempty"`
	Formats   []FormatInfo `json:"formats"`
}
