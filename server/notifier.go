package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fetchtube/internal"
)

// ProgressReader is the notifier's view of the progress tracker
type ProgressReader interface {
	Get(id string) *internal.ProgressSnapshot
}

// Notifier relays progress snapshots to the browser over a server-sent-event
// stream, one connection per download correlation id.
type Notifier struct {
	progress     ProgressReader
	pollInterval time.Duration
	gracePeriod  time.Duration
	maxLifetime  time.Duration
}

// NewNotifier creates a notifier reading from progress
func NewNotifier(cfg *internal.Config, progress ProgressReader) *Notifier {
	return &Notifier{
		progress:     progress,
		pollInterval: cfg.PollInterval,
		gracePeriod:  cfg.NotifyGracePeriod,
		maxLifetime:  cfg.NotifyMaxLifetime,
	}
}

// Stream serves one SSE connection for id. It emits a connecting snapshot
// immediately, then forwards tracker snapshots on the poll interval. After a
// terminal snapshot it keeps forwarding for a short grace period, and it
// self-terminates at the absolute lifetime cap or on client disconnect.
func (n *Notifier) Stream(c *gin.Context, id string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	n.writeSnapshot(c, internal.ProgressSnapshot{
		Progress: 0,
		Message:  "Connecting...",
		Phase:    internal.PhasePreparing,
	})
	flusher.Flush()

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	lifetime := time.NewTimer(n.maxLifetime)
	defer lifetime.Stop()

	var graceDeadline time.Time

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-lifetime.C:
			n.writeSnapshot(c, internal.ProgressSnapshot{
				Progress:  0,
				Message:   "Progress stream timed out",
				Phase:     internal.PhaseTimeout,
				Error:     "progress stream timed out",
				Completed: true,
			})
			flusher.Flush()
			return

		case <-ticker.C:
			snap := n.progress.Get(id)
			if snap == nil {
				if !graceDeadline.IsZero() {
					// Entry purged after its terminal snapshot was relayed
					return
				}
				fmt.Fprint(c.Writer, ": waiting\n\n")
				flusher.Flush()
				continue
			}

			n.writeSnapshot(c, *snap)
			flusher.Flush()

			if snap.Completed || snap.Error != "" {
				if graceDeadline.IsZero() {
					graceDeadline = time.Now().Add(n.gracePeriod)
				} else if time.Now().After(graceDeadline) {
					return
				}
			}
		}
	}
}

func (n *Notifier) writeSnapshot(c *gin.Context, snap internal.ProgressSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
}
