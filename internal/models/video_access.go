// Package models defines the records owned by the video access-control
// subsystem and the wire shapes of its API.
package models

import "time"

// VideoSession binds an issued token's session ID to a user, video, and
// validity window. Sessions are the unit of revocation: rows are marked
// inactive (expired or terminated) and retained for audit, never deleted
// and never reactivated.
type VideoSession struct {
	SessionID         string     `json:"session_id"`
	UserID            string     `json:"user_id"`
	VideoID           string     `json:"video_id"`
	BatchID           string     `json:"batch_id"`
	TokenHash         string     `json:"-"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	IssuedHourBucket  int64      `json:"issued_hour_bucket"`
	ClientIP          string     `json:"client_ip"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	LastAccessAt      time.Time  `json:"last_access_at"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
}

// ViewRecord is an append-only record of one granted video access event.
// It exists only to feed the daily view quota.
type ViewRecord struct {
	UserID    string    `json:"user_id"`
	VideoID   string    `json:"video_id"`
	BatchID   string    `json:"batch_id"`
	SessionID string    `json:"session_id"`
	ViewedAt  time.Time `json:"viewed_at"`
}

// Risk levels for security events.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// SecurityEvent captures an access anomaly for the audit trail.
type SecurityEvent struct {
	Type      string `json:"event_type"`
	RiskLevel string `json:"risk_level"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Error codes surfaced to clients. Each failure path has its own code so
// client UX can distinguish "log in again" from "too many devices".
const (
	CodeMissingVideoToken   = "MISSING_VIDEO_TOKEN"
	CodeInvalidVideoToken   = "INVALID_VIDEO_TOKEN"
	CodeExpiredVideoToken   = "EXPIRED_VIDEO_TOKEN"
	CodeInvalidVideoSession = "INVALID_VIDEO_SESSION"
	CodeDeviceMismatch      = "DEVICE_MISMATCH"
	CodeEnrollmentRequired  = "ENROLLMENT_REQUIRED"
	CodeConcurrencyLimit    = "CONCURRENCY_LIMIT_EXCEEDED"
	CodeDailyQuotaExceeded  = "DAILY_QUOTA_EXCEEDED"
	CodeSuspiciousActivity  = "SUSPICIOUS_ACTIVITY_DETECTED"
	CodeTransientError      = "TRANSIENT_ERROR"
)

// ErrorResponse is the uniform error body for access-control failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IssueTokenRequest is the body of a token issuance request.
type IssueTokenRequest struct {
	BatchID string `json:"batch_id" binding:"required"`
}

// IssueTokenResponse is returned on successful token issuance.
type IssueTokenResponse struct {
	Token            string `json:"token"`
	SessionID        string `json:"session_id"`
	ExpiresIn        int64  `json:"expires_in"`
	WatermarkEnabled bool   `json:"watermark_enabled"`
}

// SessionListResponse wraps a user's sessions for the admin view.
type SessionListResponse struct {
	Sessions []VideoSession `json:"sessions"`
	Count    int            `json:"count"`
}
