package web

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/elocute/elocute/internal/gaze"
	"github.com/elocute/elocute/internal/score"
	"github.com/elocute/elocute/internal/session"
	"github.com/elocute/elocute/internal/voice"
)

// snapshot is one WebSocket stream frame: everything a dashboard needs to
// render the live session at a single instant. Pieces that do not exist yet
// (no session, no face seen, no score) are omitted rather than zero-filled.
type snapshot struct {
	Timestamp     time.Time           `json:"timestamp"`
	Session       *session.Info       `json:"session,omitempty"`
	Gaze          *gaze.Sample        `json:"gaze,omitempty"`
	GazePattern   gaze.PatternMetrics `json:"gazePattern"`
	Voice         *voice.Sample       `json:"voice,omitempty"`
	VoiceFeatures voice.Features      `json:"voiceFeatures"`
	Engagement    *score.Engagement   `json:"engagement,omitempty"`
}

// stream upgrades the request to a WebSocket and pushes a combined metric
// snapshot at the configured cadence until the client disconnects. The
// connection stays open across session starts and stops; frames sent while
// no session is running carry only the timestamp.
//
//	GET /v1/stream
func (h *handlers) stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Dashboards are served from a different origin during development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("stream: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// The endpoint is write-only. CloseRead discards incoming frames and
	// cancels the returned context when the client closes or the read side
	// fails, which ends the push loop below.
	ctx := conn.CloseRead(c.Request.Context())

	ticker := time.NewTicker(h.cadence())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			data, err := json.Marshal(h.snapshot())
			if err != nil {
				slog.Error("stream: marshal snapshot", "error", err)
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			// Pick up cadence changes from a config reload.
			ticker.Reset(h.cadence())
		}
	}
}

// cadence returns the current push interval, guarding against a broken
// supplier: time.NewTicker panics on non-positive durations.
func (h *handlers) cadence() time.Duration {
	if d := h.interval(); d > 0 {
		return d
	}
	return defaultStreamInterval
}

// snapshot assembles the current stream frame from session accessors. Every
// field is a copy; the frame never aliases live pipeline state.
func (h *handlers) snapshot() snapshot {
	snap := snapshot{Timestamp: time.Now()}

	info, ok := h.sessions.Info()
	if !ok {
		return snap
	}
	snap.Session = &info

	sess, ok := h.sessions.Current()
	if !ok {
		return snap
	}
	if g, ok := sess.LatestGaze(); ok {
		snap.Gaze = &g
	}
	snap.GazePattern = sess.GazeMetrics()
	if v, ok := sess.LatestVoice(); ok {
		snap.Voice = &v
	}
	snap.VoiceFeatures = sess.VoiceFeatures()
	if e, ok := sess.Engagement(); ok {
		snap.Engagement = &e
	}
	return snap
}
