// Package audit records security events for the video access-control
// subsystem. Recording is strictly best-effort: a broken audit path must
// never block token issuance or playback, so failures are swallowed at the
// call site and only logged.
package audit

import (
	"context"
	"database/sql"

	"coursehall/api_video/internal/models"
	"coursehall/api_video/pkg/logging"
)

// Event types recorded by the subsystem.
const (
	EventInvalidSession     = "invalid_video_session"
	EventDeviceMismatch     = "device_fingerprint_mismatch"
	EventSuspiciousActivity = "suspicious_activity"
	EventSessionTerminated  = "session_terminated"
)

// Recorder accepts security events.
type Recorder interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// DBRecorder logs events and persists them to the security_events table.
type DBRecorder struct {
	db     *sql.DB
	logger logging.Logger
}

// NewDBRecorder creates a recorder writing to the shared database.
func NewDBRecorder(db *sql.DB, logger logging.Logger) *DBRecorder {
	return &DBRecorder{db: db, logger: logger}
}

func (r *DBRecorder) Record(ctx context.Context, event models.SecurityEvent) {
	entry := r.logger.WithFields(logging.Fields{
		"event_type": event.Type,
		"risk_level": event.RiskLevel,
		"user_id":    event.UserID,
		"session_id": event.SessionID,
		"client_ip":  event.ClientIP,
		"detail":     event.Detail,
	})
	switch event.RiskLevel {
	case models.RiskHigh, models.RiskCritical:
		entry.Error("Security event")
	case models.RiskMedium:
		entry.Warn("Security event")
	default:
		entry.Info("Security event")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_events (event_type, risk_level, user_id, session_id, client_ip, user_agent, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.Type, event.RiskLevel, event.UserID, event.SessionID, event.ClientIP, event.UserAgent, event.Detail)
	if err != nil {
		// Swallowed: the audit trail loses one row, the request proceeds.
		r.logger.WithError(err).Warn("Failed to persist security event")
	}
}
