package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elocute/elocute/internal/detector"
	"github.com/elocute/elocute/internal/session"
)

// handlers bundles the dependencies shared by all routes.
type handlers struct {
	sessions Sessions
	detector *detector.Manager
	interval func() time.Duration
}

// startSession launches a new practice session.
//
//	POST /v1/sessions → 201 session info, 409 when one is already running
func (h *handlers) startSession(c *gin.Context) {
	info, err := h.sessions.Start(c.Request.Context())
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "session_active"})
			return
		}
		slog.Error("start session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusCreated, info)
}

// sessionInfo describes the active session and the detector tier serving it.
//
//	GET /v1/sessions/current → 200, 404 without a session
func (h *handlers) sessionInfo(c *gin.Context) {
	info, ok := h.sessions.Info()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
		return
	}
	resp := gin.H{"session": info}
	if h.detector != nil {
		st := h.detector.Stats()
		resp["detector"] = gin.H{
			"state":        st.State.String(),
			"activeSource": st.ActiveSource,
			"framesTotal":  st.FramesTotal,
			"failures":     st.Failures,
			"transitions":  st.Transitions,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// stopSession ends the active session and returns its recording.
//
//	DELETE /v1/sessions/current → 200 recording, 404 without a session
func (h *handlers) stopSession(c *gin.Context) {
	rec, err := h.sessions.Stop()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
			return
		}
		slog.Error("stop session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// recording returns the most recent finalized session recording. It stays
// available after the session that produced it has been stopped.
//
//	GET /v1/sessions/current/recording → 200, 404 before the first session ends
func (h *handlers) recording(c *gin.Context) {
	rec, ok := h.sessions.Recording()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_recording"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// calibrate adapts the fixation threshold to the gaze spread observed so far.
//
//	POST /v1/sessions/current/calibrate → 204, 404 without a session
func (h *handlers) calibrate(c *gin.Context) {
	if err := h.sessions.Calibrate(); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
			return
		}
		slog.Error("calibrate failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.Status(http.StatusNoContent)
}

// gazeMetrics returns the latest gaze sample plus the pattern analysis over
// the retained window. The latest sample is omitted until the first video
// tick commits.
//
//	GET /v1/metrics/gaze → 200, 404 without a session
func (h *handlers) gazeMetrics(c *gin.Context) {
	sess, ok := h.sessions.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
		return
	}
	resp := gin.H{"pattern": sess.GazeMetrics()}
	if sample, ok := sess.LatestGaze(); ok {
		resp["latest"] = sample
	}
	c.JSON(http.StatusOK, resp)
}

// voiceMetrics returns the latest voice sample plus the derived feature
// snapshot used by the scorer.
//
//	GET /v1/metrics/voice → 200, 404 without a session
func (h *handlers) voiceMetrics(c *gin.Context) {
	sess, ok := h.sessions.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
		return
	}
	resp := gin.H{"features": sess.VoiceFeatures()}
	if sample, ok := sess.LatestVoice(); ok {
		resp["latest"] = sample
	}
	c.JSON(http.StatusOK, resp)
}

// engagement returns the latest combined engagement score. The first score
// needs at least one tick of each modality, so a freshly started session
// reports 404 until the scorer has run.
//
//	GET /v1/metrics/engagement → 200, 404 without a session or score
func (h *handlers) engagement(c *gin.Context) {
	sess, ok := h.sessions.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
		return
	}
	eng, ok := sess.Engagement()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_scored_yet"})
		return
	}
	c.JSON(http.StatusOK, eng)
}
