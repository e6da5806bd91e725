package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proculyze/analyzer/pkg/models"
)

// statusPollInterval bounds how quickly a status transition written
// directly to the store (the Pipeline Orchestrator's setStatus/finish,
// which never go through Publish) is picked up and relayed as an SSE
// "status" event — status is not one of the durable EventTypes, so this
// stream is the only place that has to notice it changed.
const statusPollInterval = 300 * time.Millisecond

// StreamHandler serves GET /api/v1/analyses/:id/stream as Server-Sent
// Events, replaying durable events since Last-Event-ID (or a "since"
// query param) before switching to live delivery, multiplexing in
// ephemeral thinking chunks, and polling the analysis record for status
// transitions (spec §6's named SSE events: "status", "progress",
// "metrics", "error_event", and exactly one terminal "complete"). Matches
// spec §4.1/§8's "replay then live" reconnect contract.
func (b *Bus) StreamHandler(c *gin.Context) {
	analysisID := c.Param("id")
	ctx := c.Request.Context()

	since := lastEventIndex(c)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	replayed, err := b.ReplayFrom(ctx, analysisID, since)
	if err != nil {
		writeStreamErrorEvent(c, err)
		return
	}

	analysis, err := b.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		writeStreamErrorEvent(c, err)
		return
	}

	durableCh, unsubscribeDurable := b.Subscribe(analysisID)
	defer unsubscribeDurable()
	thinkingCh, unsubscribeThinking := b.SubscribeThinking(analysisID)
	defer unsubscribeThinking()

	lastStatus := analysis.Status
	writeStatusEvent(c, lastStatus)
	for _, evt := range replayed {
		writeDurableEvent(c, evt)
	}
	c.Writer.Flush()
	if lastStatus.Terminal() {
		writeCompleteEvent(c, analysis)
		return
	}

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-durableCh:
			if !ok {
				return
			}
			writeDurableEvent(c, evt)
			c.Writer.Flush()
		case chunk, ok := <-thinkingCh:
			if !ok {
				continue
			}
			writeThinkingChunk(c, chunk)
			c.Writer.Flush()
		case <-ticker.C:
			current, err := b.store.GetAnalysis(ctx, analysisID)
			if err != nil {
				continue
			}
			if current.Status == lastStatus {
				continue
			}
			lastStatus = current.Status
			writeStatusEvent(c, lastStatus)
			c.Writer.Flush()
			if lastStatus.Terminal() {
				writeCompleteEvent(c, current)
				return
			}
		}
	}
}

// writeDurableEvent relays one persisted Event under the SSE name spec §6
// maps its EventType onto: "metrics" for metrics_update, "error_event"
// for error, "progress" for every other (per-stage progress) event type.
// The payload is flattened to {event_type, timestamp, index, ...data}
// rather than nesting evt.Data under its own key.
func writeDurableEvent(c *gin.Context, evt models.Event) {
	payload := make(gin.H, len(evt.Data)+3)
	for k, v := range evt.Data {
		payload[k] = v
	}
	payload["event_type"] = evt.Type
	payload["timestamp"] = evt.Timestamp
	payload["index"] = evt.Index
	c.SSEvent(sseNameFor(evt.Type), payload)
}

func sseNameFor(t models.EventType) string {
	switch t {
	case models.EventMetricsUpdate:
		return "metrics"
	case models.EventError:
		return "error_event"
	default:
		return "progress"
	}
}

func writeThinkingChunk(c *gin.Context, chunk models.ThinkingChunk) {
	c.SSEvent("thinking", chunk)
}

// writeStatusEvent emits spec §6's "status" event on every transition,
// the status string uppercased as the spec requires there.
func writeStatusEvent(c *gin.Context, status models.Status) {
	c.SSEvent("status", gin.H{"status": strings.ToUpper(string(status))})
}

// writeStreamErrorEvent emits spec §6's "error" SSE event for a
// stream-level failure (replay or lookup failed), distinct from the
// "error_event" name a durable stage-fatal Event relays under.
func writeStreamErrorEvent(c *gin.Context, err error) {
	c.SSEvent("error", gin.H{"error": err.Error()})
	c.Writer.Flush()
}

// writeCompleteEvent emits the single terminal "complete" event a client
// sees exactly once per analysis, carrying the final status so it never
// has to make a follow-up getAnalysis call just to learn how the run
// ended.
func writeCompleteEvent(c *gin.Context, analysis *models.Analysis) {
	c.SSEvent("complete", gin.H{"status": analysis.Status, "error": analysis.Error})
}

func lastEventIndex(c *gin.Context) uint32 {
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n) + 1
		}
	}
	if v := c.Query("since"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return 0
}
