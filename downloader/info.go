package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"fetchtube/internal"
)

// InfoFetcher retrieves video metadata and the available format list through
// the extractor's JSON dump mode. It shares the credential cache and proxy
// selector with the download path.
type InfoFetcher struct {
	binary      string
	credentials internal.CredentialSource
	proxies     internal.ProxyPicker
}

// NewInfoFetcher wires the metadata path
func NewInfoFetcher(cfg *internal.Config, credentials internal.CredentialSource, proxies internal.ProxyPicker) *InfoFetcher {
	return &InfoFetcher{
		binary:      cfg.ExtractorBin,
		credentials: credentials,
		proxies:     proxies,
	}
}

// rawVideoInfo mirrors the extractor's JSON dump fields we consume
type rawVideoInfo struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Uploader  string  `json:"uploader"`
	Formats   []struct {
		FormatID   string  `json:"format_id"`
		Ext        string  `json:"ext"`
		Resolution string  `json:"resolution"`
		FPS        float64 `json:"fps"`
		Filesize   int64   `json:"filesize"`
		VCodec     string  `json:"vcodec"`
		ACodec     string  `json:"acodec"`
		FormatNote string  `json:"format_note"`
	} `json:"formats"`
}

// Fetch retrieves metadata for url. Failures are classified with the same
// phrase table as downloads so bot detection is reported distinctly.
func (f *InfoFetcher) Fetch(ctx context.Context, url string) (*internal.VideoInfo, error) {
	bundle, _ := f.credentials.Acquire(ctx, false)

	args := []string{"-J", "--no-playlist", "--no-warnings"}
	if bundle != nil && bundle.FilePath != "" {
		if info, err := os.Stat(bundle.FilePath); err == nil && info.Size() > 0 {
			args = append(args, "--cookies", bundle.FilePath)
		}
	}
	if proxy := f.proxies.Pick(); proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, internal.NewTimeoutError("metadata fetch")
		}
		outcome := classify(stderr.String(), exitCodeOf(err), false)
		return nil, internal.NewFetchError(0, outcome.Detail, outcome.Kind).WithURL(url)
	}

	var raw rawVideoInfo
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, internal.NewFatalError(fmt.Sprintf("unreadable metadata response: %v", err))
	}

	info := &internal.VideoInfo{
		ID:        raw.ID,
		Title:     raw.Title,
		Duration:  raw.Duration,
		Thumbnail: raw.Thumbnail,
		Uploader:  raw.Uploader,
	}
	for _, rf := range raw.Formats {
		// Storyboards and other imageless pseudo-formats are useless to offer
		if rf.VCodec == "none" && rf.ACodec == "none" {
			continue
		}
		hasVideo := rf.VCodec != "none" && rf.VCodec != ""
		hasAudio := rf.ACodec != "none" && rf.ACodec != ""
		if !hasVideo && !hasAudio {
			// Manifest-derived entries often omit the codec fields entirely;
			// the resolution still tells the media kinds apart. Entries that
			// carry neither signal are dropped.
			switch {
			case rf.Resolution == "audio only":
				hasAudio = rf.ACodec != "none"
			case rf.Resolution != "":
				hasVideo = rf.VCodec != "none"
			}
			if !hasVideo && !hasAudio {
				continue
			}
		}
		info.Formats = append(info.Formats, internal.FormatInfo{
			FormatID:   rf.FormatID,
			Ext:        rf.Ext,
			Resolution: rf.Resolution,
			FPS:        int(rf.FPS),
			Filesize:   rf.Filesize,
			HasVideo:   hasVideo,
			HasAudio:   hasAudio,
			Note:       rf.FormatNote,
		})
	}

	// Highest quality first, the order the picker presents them
	sort.SliceStable(info.Formats, func(i, j int) bool {
		return info.Formats[i].Filesize > info.Formats[j].Filesize
	})

	return info, nil
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
