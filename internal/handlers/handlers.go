// Package handlers implements the HTTP surface of the video access-control
// subsystem: token issuance, playback verification, and session
// administration.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"coursehall/api_video/internal/audit"
	"coursehall/api_video/internal/enrollment"
	"coursehall/api_video/internal/fingerprint"
	"coursehall/api_video/internal/models"
	"coursehall/api_video/internal/store"
	"coursehall/api_video/internal/token"
	"coursehall/api_video/pkg/ctxkeys"
	"coursehall/api_video/pkg/logging"
	"coursehall/api_video/pkg/middleware"
)

// TokenHeader is the dedicated playback token header. The query parameter
// exists for players that cannot set custom headers.
const (
	TokenHeader     = "X-Video-Token"
	TokenQueryParam = "video_token"
)

// Handlers carries the collaborators of the video access endpoints.
type Handlers struct {
	cfg        models.AccessConfig
	sessions   store.SessionStore
	enrollment enrollment.Checker
	audit      audit.Recorder
	logger     logging.Logger

	issued *prometheus.CounterVec
	denied *prometheus.CounterVec

	now func() time.Time
}

// NewHandlers creates the handler set. The metric vectors may be nil.
func NewHandlers(
	cfg models.AccessConfig,
	sessions store.SessionStore,
	checker enrollment.Checker,
	recorder audit.Recorder,
	logger logging.Logger,
	issued, denied *prometheus.CounterVec,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		sessions:   sessions,
		enrollment: checker,
		audit:      recorder,
		logger:     logger,
		issued:     issued,
		denied:     denied,
		now:        time.Now,
	}
}

// IssueToken handles POST /videos/:id/token. Enrollment is checked first,
// then both usage limits; each failure maps to one code. The session row is
// persisted before the token is returned, so a verification arriving
// immediately after issuance always finds its session.
func (h *Handlers) IssueToken(c *gin.Context) {
	userID := c.GetString(string(ctxkeys.KeyUserID))
	videoID := c.Param("id")

	var req models.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "batch_id is required",
			Code:  models.CodeEnrollmentRequired,
		})
		return
	}

	log := middleware.GetContextLogger(c, h.logger).WithFields(logging.Fields{
		"video_id": videoID,
		"batch_id": req.BatchID,
	})

	enrolled, err := h.enrollment.IsEnrolled(c.Request.Context(), userID, req.BatchID)
	if err != nil {
		log.WithError(err).Error("Enrollment lookup failed")
		h.transient(c)
		return
	}
	if !enrolled {
		h.deny(c, http.StatusForbidden, "Active enrollment required for this batch", models.CodeEnrollmentRequired)
		return
	}

	now := h.now()

	active, err := h.sessions.ActiveSessionCount(c.Request.Context(), userID, now)
	if err != nil {
		log.WithError(err).Error("Active session count failed")
		h.transient(c)
		return
	}
	views, err := h.sessions.DailyViewCount(c.Request.Context(), userID, now)
	if err != nil {
		log.WithError(err).Error("Daily view count failed")
		h.transient(c)
		return
	}

	// Both limits are always evaluated. When both are exhausted the quota
	// failure is the one reported: it tells the user when access comes back
	// (tomorrow), which closing another device's session would not.
	if views >= h.cfg.MaxDailyViews {
		h.deny(c, http.StatusForbidden, "Daily view limit reached", models.CodeDailyQuotaExceeded)
		return
	}
	if active >= h.cfg.MaxConcurrentSessions {
		h.deny(c, http.StatusForbidden, "Maximum concurrent video sessions reached", models.CodeConcurrencyLimit)
		return
	}

	sessionID := uuid.NewString()
	bucket := fingerprint.CurrentHourBucket(now)
	digest := fingerprint.Compute(c.Request.UserAgent(), c.GetHeader("Accept-Language"), c.ClientIP(), bucket)

	signed, err := token.Generate(token.Params{
		UserID:            userID,
		VideoID:           videoID,
		BatchID:           req.BatchID,
		SessionID:         sessionID,
		DeviceFingerprint: digest,
		IssuedHourBucket:  bucket,
		TTL:               h.cfg.TokenTTL,
		IssuedAt:          now,
	}, h.cfg.TokenSecret)
	if err != nil {
		log.WithError(err).Error("Token signing failed")
		h.transient(c)
		return
	}

	session := &models.VideoSession{
		SessionID:         sessionID,
		UserID:            userID,
		VideoID:           videoID,
		BatchID:           req.BatchID,
		TokenHash:         token.Hash(signed),
		DeviceFingerprint: digest,
		IssuedHourBucket:  bucket,
		ClientIP:          c.ClientIP(),
		Active:            true,
		CreatedAt:         now,
		ExpiresAt:         now.Add(h.cfg.TokenTTL),
		LastAccessAt:      now,
	}
	if err := h.sessions.CreateSession(c.Request.Context(), session); err != nil {
		log.WithError(err).Error("Session creation failed")
		h.transient(c)
		return
	}

	if err := h.sessions.AppendViewRecord(c.Request.Context(), &models.ViewRecord{
		UserID:    userID,
		VideoID:   videoID,
		BatchID:   req.BatchID,
		SessionID: sessionID,
		ViewedAt:  now,
	}); err != nil {
		log.WithError(err).Error("View record append failed")
		h.transient(c)
		return
	}

	if h.issued != nil {
		h.issued.WithLabelValues("success").Inc()
	}
	log.WithField("session_id", sessionID).Info("Video access token issued")

	c.JSON(http.StatusOK, models.IssueTokenResponse{
		Token:            signed,
		SessionID:        sessionID,
		ExpiresIn:        int64(h.cfg.TokenTTL.Seconds()),
		WatermarkEnabled: h.cfg.WatermarkEnabled,
	})
}

// VerifyToken gates playback routes. Each step is a short-circuit failure
// with its own code; nothing is retried.
func (h *Handlers) VerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TokenHeader)
		if raw == "" {
			raw = c.Query(TokenQueryParam)
		}
		if raw == "" {
			h.reject(c, http.StatusUnauthorized, "Video token required", models.CodeMissingVideoToken)
			return
		}

		claims, err := token.Validate(raw, h.cfg.TokenSecret)
		if err != nil {
			if errors.Is(err, token.ErrExpiredToken) {
				h.reject(c, http.StatusUnauthorized, "Video token expired", models.CodeExpiredVideoToken)
				return
			}
			h.reject(c, http.StatusUnauthorized, "Invalid video token", models.CodeInvalidVideoToken)
			return
		}

		session, err := h.sessions.GetActiveSession(c.Request.Context(), claims.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				h.audit.Record(c.Request.Context(), models.SecurityEvent{
					Type:      audit.EventInvalidSession,
					RiskLevel: models.RiskMedium,
					UserID:    claims.UserID,
					SessionID: claims.SessionID,
					ClientIP:  c.ClientIP(),
					UserAgent: c.Request.UserAgent(),
					Detail:    "token presented for inactive or unknown session",
				})
				h.reject(c, http.StatusUnauthorized, "Video session is no longer valid", models.CodeInvalidVideoSession)
				return
			}
			h.logger.WithError(err).Error("Session lookup failed")
			h.transient(c)
			c.Abort()
			return
		}

		// The fingerprint must be recomputed with the bucket recorded at
		// issuance. Using the current hour would fail every token that
		// straddles an hour boundary.
		digest := fingerprint.Compute(c.Request.UserAgent(), c.GetHeader("Accept-Language"), c.ClientIP(), claims.IssuedHourBucket)
		if digest != session.DeviceFingerprint {
			h.audit.Record(c.Request.Context(), models.SecurityEvent{
				Type:      audit.EventDeviceMismatch,
				RiskLevel: models.RiskCritical,
				UserID:    claims.UserID,
				SessionID: claims.SessionID,
				ClientIP:  c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				Detail:    "device fingerprint does not match session",
			})
			h.reject(c, http.StatusForbidden, "Token is bound to a different device", models.CodeDeviceMismatch)
			return
		}

		if err := h.sessions.TouchSession(c.Request.Context(), session.SessionID, h.now()); err != nil {
			h.logger.WithError(err).Error("Session touch failed")
			h.transient(c)
			c.Abort()
			return
		}

		c.Set(string(ctxkeys.KeyVideoClaims), claims)
		c.Set(string(ctxkeys.KeyVideoSessionID), claims.SessionID)
		c.Set(string(ctxkeys.KeyVideoID), claims.VideoID)
		c.Set(string(ctxkeys.KeyBatchID), claims.BatchID)
		c.Next()
	}
}

// Playback handles GET /videos/:id/stream behind VerifyToken. It returns
// the playback descriptor for the session; actual media delivery happens at
// the CDN edge.
func (h *Handlers) Playback(c *gin.Context) {
	claims, ok := c.Get(string(ctxkeys.KeyVideoClaims))
	if !ok {
		h.reject(c, http.StatusUnauthorized, "Video token required", models.CodeMissingVideoToken)
		return
	}
	vc := claims.(*token.VideoClaims)

	if vc.VideoID != c.Param("id") {
		h.reject(c, http.StatusForbidden, "Token was issued for a different video", models.CodeInvalidVideoToken)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":          vc.VideoID,
		"session_id":        vc.SessionID,
		"watermark":         vc.Watermark,
		"watermark_enabled": h.cfg.WatermarkEnabled,
	})
}

// TerminateSession handles DELETE /video-sessions/:id. Termination is
// terminal and idempotent: repeating it, or terminating an already-expired
// session, changes nothing.
func (h *Handlers) TerminateSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.sessions.TerminateSession(c.Request.Context(), sessionID, h.now()); err != nil {
		h.logger.WithError(err).Error("Session termination failed")
		h.transient(c)
		return
	}

	h.audit.Record(c.Request.Context(), models.SecurityEvent{
		Type:      audit.EventSessionTerminated,
		RiskLevel: models.RiskLow,
		UserID:    c.GetString(string(ctxkeys.KeyUserID)),
		SessionID: sessionID,
		ClientIP:  c.ClientIP(),
	})

	c.Status(http.StatusNoContent)
}

// ListUserSessions handles GET /users/:id/video-sessions. Inactive sessions
// are included; they are retained for audit.
func (h *Handlers) ListUserSessions(c *gin.Context) {
	userID := c.Param("id")

	sessions, err := h.sessions.ListUserSessions(c.Request.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Session listing failed")
		h.transient(c)
		return
	}

	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (h *Handlers) deny(c *gin.Context, status int, message, code string) {
	if h.denied != nil {
		h.denied.WithLabelValues(code).Inc()
	}
	c.JSON(status, models.ErrorResponse{Error: message, Code: code})
}

func (h *Handlers) reject(c *gin.Context, status int, message, code string) {
	if h.denied != nil {
		h.denied.WithLabelValues(code).Inc()
	}
	c.JSON(status, models.ErrorResponse{Error: message, Code: code})
	c.Abort()
}

func (h *Handlers) transient(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
		Error: "Service temporarily unavailable",
		Code:  models.CodeTransientError,
	})
}
