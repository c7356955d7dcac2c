// Package store provides the shared session store backing the video
// access-control subsystem. All serving instances share one store so a
// session issued by any instance is verifiable by every other.
package store

import (
	"context"
	"errors"
	"time"

	"coursehall/api_video/internal/models"
)

// ErrSessionNotFound is returned when no active session matches a lookup.
// It covers both terminated and swept sessions.
var ErrSessionNotFound = errors.New("video session not found or inactive")

// SessionStore is the durable keyed storage for session and view records.
type SessionStore interface {
	// CreateSession persists a new active session. It must complete before
	// the corresponding token is handed out.
	CreateSession(ctx context.Context, s *models.VideoSession) error

	// GetActiveSession loads a session by ID where active is still true.
	GetActiveSession(ctx context.Context, sessionID string) (*models.VideoSession, error)

	// TouchSession updates last_access_at on a successful verification.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// TerminateSession marks a session inactive and stamps terminated_at.
	// Terminating an already-inactive session is a no-op, not an error.
	TerminateSession(ctx context.Context, sessionID string, at time.Time) error

	// ActiveSessionCount counts the user's active, non-expired sessions.
	ActiveSessionCount(ctx context.Context, userID string, now time.Time) (int, error)

	// ActiveSessionCountByIP counts active, non-expired sessions bound to a
	// client network address, across all users.
	ActiveSessionCountByIP(ctx context.Context, clientIP string, now time.Time) (int, error)

	// DailyViewCount counts the user's view records for the current
	// calendar day, i.e. viewed_at in [start of day, now).
	DailyViewCount(ctx context.Context, userID string, now time.Time) (int, error)

	// AppendViewRecord appends one granted-access event.
	AppendViewRecord(ctx context.Context, r *models.ViewRecord) error

	// SweepExpired marks all timed-out active sessions inactive in one
	// batched update and returns the number of rows affected. The update is
	// idempotent, so running it concurrently on several instances is safe.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// ListUserSessions returns all of a user's sessions, newest first,
	// including inactive ones retained for audit.
	ListUserSessions(ctx context.Context, userID string) ([]models.VideoSession, error)
}
