package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coursehall/api_video/internal/models"
)

// PostgresStore implements SessionStore over a shared PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a session store backed by the given connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.VideoSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_sessions (
			session_id, user_id, video_id, batch_id, token_hash,
			device_fingerprint, issued_hour_bucket, client_ip,
			active, created_at, expires_at, last_access_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $10, $9)
	`, sess.SessionID, sess.UserID, sess.VideoID, sess.BatchID, sess.TokenHash,
		sess.DeviceFingerprint, sess.IssuedHourBucket, sess.ClientIP,
		sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create video session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveSession(ctx context.Context, sessionID string) (*models.VideoSession, error) {
	var sess models.VideoSession
	var terminatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, video_id, batch_id, token_hash,
		       device_fingerprint, issued_hour_bucket, client_ip,
		       active, created_at, expires_at, last_access_at, terminated_at
		FROM video_sessions
		WHERE session_id = $1 AND active = true
	`, sessionID).Scan(
		&sess.SessionID, &sess.UserID, &sess.VideoID, &sess.BatchID, &sess.TokenHash,
		&sess.DeviceFingerprint, &sess.IssuedHourBucket, &sess.ClientIP,
		&sess.Active, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastAccessAt, &terminatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video session: %w", err)
	}
	if terminatedAt.Valid {
		sess.TerminatedAt = &terminatedAt.Time
	}
	return &sess, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE video_sessions SET last_access_at = $1
		WHERE session_id = $2 AND active = true
	`, at, sessionID)
	if err != nil {
		return fmt.Errorf("touch video session: %w", err)
	}
	return nil
}

func (s *PostgresStore) TerminateSession(ctx context.Context, sessionID string, at time.Time) error {
	// Guarded on active so a repeat call is a no-op.
	_, err := s.db.ExecContext(ctx, `
		UPDATE video_sessions SET active = false, terminated_at = $1
		WHERE session_id = $2 AND active = true
	`, at, sessionID)
	if err != nil {
		return fmt.Errorf("terminate video session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveSessionCount(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM video_sessions
		WHERE user_id = $1 AND active = true AND expires_at > $2
	`, userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ActiveSessionCountByIP(ctx context.Context, clientIP string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM video_sessions
		WHERE client_ip = $1 AND active = true AND expires_at > $2
	`, clientIP, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions by ip: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DailyViewCount(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM view_records
		WHERE user_id = $1
		  AND viewed_at >= date_trunc('day', $2::timestamptz)
		  AND viewed_at < $2
	`, userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count daily views: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AppendViewRecord(ctx context.Context, r *models.ViewRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO view_records (user_id, video_id, batch_id, session_id, viewed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.UserID, r.VideoID, r.BatchID, r.SessionID, r.ViewedAt)
	if err != nil {
		return fmt.Errorf("append view record: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_sessions SET active = false
		WHERE active = true AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) ListUserSessions(ctx context.Context, userID string) ([]models.VideoSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, video_id, batch_id,
		       device_fingerprint, issued_hour_bucket, client_ip,
		       active, created_at, expires_at, last_access_at, terminated_at
		FROM video_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.VideoSession
	for rows.Next() {
		var sess models.VideoSession
		var terminatedAt sql.NullTime
		if err := rows.Scan(
			&sess.SessionID, &sess.UserID, &sess.VideoID, &sess.BatchID,
			&sess.DeviceFingerprint, &sess.IssuedHourBucket, &sess.ClientIP,
			&sess.Active, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastAccessAt, &terminatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user session: %w", err)
		}
		if terminatedAt.Valid {
			sess.TerminatedAt = &terminatedAt.Time
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user sessions: %w", err)
	}
	return sessions, nil
}
