package downloader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"fetchtube/internal"
)

// minOutputSize is the smallest byte count a real media file can plausibly
// have. Anything below it is treated as a failed download.
const minOutputSize = 1024

// probeTimeout bounds the external media probe
const probeTimeout = 15 * time.Second

// OutputValidator checks a buffered download's output file before delivery.
// It prefers a deep probe via an external media inspector when one is on the
// host, and falls back to container magic numbers otherwise.
type OutputValidator struct {
	probeBin string
}

// NewOutputValidator creates a validator. probeBin is typically "ffprobe";
// an empty string disables the deep probe.
func NewOutputValidator(probeBin string) *OutputValidator {
	return &OutputValidator{probeBin: probeBin}
}

// Validate checks that path holds a plausible media file. Returns a
// corruption error when the file is missing, undersized, or fails the probe.
func (v *OutputValidator) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return internal.NewCorruptionError("output file missing")
	}
	if info.Size() < minOutputSize {
		return internal.NewCorruptionError(
			fmt.Sprintf("output file too small (%d bytes)", info.Size()))
	}

	if v.probeBin != "" {
		if probePath, err := exec.LookPath(v.probeBin); err == nil {
			return v.deepProbe(probePath, path)
		}
	}
	return v.checkSignature(path)
}

// probeResult is the subset of the inspector's JSON output we care about
type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// deepProbe confirms at least one decodable audio or video stream and a
// positive duration.
func (v *OutputValidator) deepProbe(probePath, mediaPath string) error {
	cmd := exec.Command(probePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		mediaPath,
	)

	done := make(chan error, 1)
	var output []byte
	go func() {
		var err error
		output, err = cmd.Output()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return internal.NewCorruptionError("media probe failed to parse the file")
		}
	case <-time.After(probeTimeout):
		cmd.Process.Kill()
		<-done
		// Probe hung; fall back to the cheap check rather than condemn the file
		internal.LogWarn("Media probe timed out on %s, using signature check", mediaPath)
		return v.checkSignature(mediaPath)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return internal.NewCorruptionError("media probe produced unreadable output")
	}

	hasStream := false
	for _, s := range result.Streams {
		if s.CodecType == "audio" || s.CodecType == "video" {
			hasStream = true
			break
		}
	}
	if !hasStream {
		return internal.NewCorruptionError("no decodable audio or video stream")
	}

	var duration float64
	fmt.Sscanf(result.Format.Duration, "%f", &duration)
	if duration <= 0 {
		return internal.NewCorruptionError("zero-duration media file")
	}
	return nil
}

// checkSignature recognizes common container magic numbers. Files that do
// not match any known signature but have content are accepted tentatively:
// an unknown container is a weaker signal than a confirmed truncation.
func (v *OutputValidator) checkSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return internal.NewCorruptionError("output file unreadable")
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil || n < 12 {
		return internal.NewCorruptionError("output file header unreadable")
	}
	header = header[:n]

	switch {
	case bytes.Equal(header[4:8], []byte("ftyp")):
		// MP4/M4A: ftyp box at offset 4
		return nil
	case bytes.HasPrefix(header, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		// Matroska / WebM EBML header
		return nil
	case bytes.HasPrefix(header, []byte("ID3")):
		// MP3 with ID3 tag
		return nil
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// Raw MPEG audio sync word
		return nil
	case bytes.HasPrefix(header, []byte("OggS")):
		return nil
	case bytes.HasPrefix(header, []byte("fLaC")):
		return nil
	case bytes.HasPrefix(header, []byte("RIFF")):
		// WAV/AVI
		return nil
	}

	internal.LogDebug("Unrecognized container signature in %s, accepting tentatively", path)
	return nil
}
