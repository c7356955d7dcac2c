package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"coursehall/api_video/internal/models"
	"coursehall/api_video/internal/store"
	"coursehall/api_video/internal/token"
	"coursehall/api_video/pkg/ctxkeys"
	"coursehall/api_video/pkg/logging"
)

const (
	testUserID  = "user-1"
	testBatchID = "batch-1"
	browserUA   = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
)

// memStore is an in-memory SessionStore with the same visible semantics as
// the SQL implementation.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.VideoSession
	views    []models.ViewRecord
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.VideoSession)}
}

func (m *memStore) CreateSession(_ context.Context, s *models.VideoSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *memStore) GetActiveSession(_ context.Context, sessionID string) (*models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active {
		return nil, store.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastAccessAt = at
	}
	return nil
}

func (m *memStore) TerminateSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.Active {
		s.Active = false
		t := at
		s.TerminatedAt = &t
	}
	return nil
}

func (m *memStore) ActiveSessionCount(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active && s.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ActiveSessionCountByIP(_ context.Context, clientIP string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.ClientIP == clientIP && s.Active && s.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DailyViewCount(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count := 0
	for _, v := range m.views {
		if v.UserID == userID && !v.ViewedAt.Before(start) && v.ViewedAt.Before(now) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AppendViewRecord(_ context.Context, r *models.ViewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, *r)
	return nil
}

func (m *memStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.sessions {
		if s.Active && s.ExpiresAt.Before(now) {
			s.Active = false
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListUserSessions(_ context.Context, userID string) ([]models.VideoSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VideoSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakeEnrollment struct {
	enrolled bool
	err      error
}

func (f *fakeEnrollment) IsEnrolled(context.Context, string, string) (bool, error) {
	return f.enrolled, f.err
}

type recordingAudit struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *recordingAudit) Record(_ context.Context, event models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) last(t *testing.T) models.SecurityEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("expected at least one security event")
	}
	return r.events[len(r.events)-1]
}

type env struct {
	store      *memStore
	audit      *recordingAudit
	enrollment *fakeEnrollment
	handlers   *Handlers
	router     *gin.Engine
}

func newEnv(t *testing.T, mutate func(*models.AccessConfig)) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := models.AccessConfig{
		TokenSecret:           []byte("test-secret"),
		TokenTTL:              2 * time.Hour,
		MaxConcurrentSessions: 3,
		MaxDailyViews:         50,
		WatermarkEnabled:      true,
		SweepInterval:         time.Hour,
		RapidRequestLimit:     30,
		RapidRequestWindow:    time.Minute,
		MaxSessionsPerIP:      5,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e := &env{
		store:      newMemStore(),
		audit:      &recordingAudit{},
		enrollment: &fakeEnrollment{enrolled: true},
	}
	e.handlers = NewHandlers(cfg, e.store, e.enrollment, e.audit, logging.NewLogger(), nil, nil)

	authed := func(c *gin.Context) {
		c.Set(string(ctxkeys.KeyUserID), testUserID)
		c.Next()
	}

	e.router = gin.New()
	api := e.router.Group("/api")
	api.POST("/videos/:id/token", authed, e.handlers.IssueToken)
	api.GET("/videos/:id/stream", e.handlers.VerifyToken(), e.handlers.Playback)
	api.DELETE("/video-sessions/:id", authed, e.handlers.TerminateSession)
	api.GET("/users/:id/video-sessions", authed, e.handlers.ListUserSessions)
	return e
}

func (e *env) issue(t *testing.T, videoID, userAgent string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/videos/"+videoID+"/token",
		strings.NewReader(`{"batch_id":"`+testBatchID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) watch(t *testing.T, videoID, tok, userAgent string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+videoID+"/stream", nil)
	if tok != "" {
		req.Header.Set(TokenHeader, tok)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func issuedToken(t *testing.T, w *httptest.ResponseRecorder) models.IssueTokenResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("issuance failed with %d: %s", w.Code, w.Body.String())
	}
	var resp models.IssueTokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode issuance response: %v", err)
	}
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response %q: %v", w.Body.String(), err)
	}
	return resp.Code
}

func TestIssueTokenSuccess(t *testing.T) {
	e := newEnv(t, nil)

	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	if resp.Token == "" || resp.SessionID == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if resp.ExpiresIn != int64((2 * time.Hour).Seconds()) {
		t.Fatalf("expected expires_in %d, got %d", int64((2*time.Hour).Seconds()), resp.ExpiresIn)
	}
	if !resp.WatermarkEnabled {
		t.Fatal("expected watermark_enabled")
	}

	session, err := e.store.GetActiveSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("session not persisted before token handout: %v", err)
	}
	if session.TokenHash != token.Hash(resp.Token) {
		t.Fatal("session token hash does not match issued token")
	}
	if views, _ := e.store.DailyViewCount(context.Background(), testUserID, time.Now().Add(time.Second)); views != 1 {
		t.Fatalf("expected 1 view record, got %d", views)
	}
}

func TestIssueTokenRequiresEnrollment(t *testing.T) {
	e := newEnv(t, nil)
	e.enrollment.enrolled = false

	w := e.issue(t, "video-1", browserUA)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeEnrollmentRequired {
		t.Fatalf("expected %s, got %s", models.CodeEnrollmentRequired, code)
	}
}

func TestIssueTokenEnrollmentLookupFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.enrollment.err = errors.New("service down")

	w := e.issue(t, "video-1", browserUA)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeTransientError {
		t.Fatalf("expected %s, got %s", models.CodeTransientError, code)
	}
}

func TestIssueTokenConcurrencyLimit(t *testing.T) {
	e := newEnv(t, nil)

	for i := 0; i < 3; i++ {
		issuedToken(t, e.issue(t, "video-1", browserUA))
	}

	w := e.issue(t, "video-1", browserUA)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeConcurrencyLimit {
		t.Fatalf("expected %s, got %s", models.CodeConcurrencyLimit, code)
	}

	count, _ := e.store.ActiveSessionCount(context.Background(), testUserID, time.Now())
	if count > 3 {
		t.Fatalf("active sessions exceeded the limit: %d", count)
	}
}

func TestIssueTokenDailyQuotaBoundary(t *testing.T) {
	// Concurrency headroom is unlimited here so only the quota binds.
	e := newEnv(t, func(cfg *models.AccessConfig) {
		cfg.MaxConcurrentSessions = 1000
	})

	for i := 0; i < 50; i++ {
		issuedToken(t, e.issue(t, "video-1", browserUA))
	}

	w := e.issue(t, "video-1", browserUA)
	if w.Code != http.StatusForbidden {
		t.Fatalf("51st issuance expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeDailyQuotaExceeded {
		t.Fatalf("expected %s, got %s", models.CodeDailyQuotaExceeded, code)
	}
}

func TestIssueTokenQuotaResetsAfterMidnight(t *testing.T) {
	e := newEnv(t, nil)

	yesterday := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	e.store.mu.Lock()
	for i := 0; i < 50; i++ {
		e.store.views = append(e.store.views, models.ViewRecord{
			UserID:   testUserID,
			VideoID:  "video-1",
			ViewedAt: yesterday,
		})
	}
	e.store.mu.Unlock()
	e.handlers.now = func() time.Time { return time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC) }

	issuedToken(t, e.issue(t, "video-1", browserUA))
}

func TestQuotaReportedIndependentlyOfConcurrency(t *testing.T) {
	// Two active sessions (limit 3) and 49 views (limit 50): issuance
	// succeeds and exhausts both budgets at once. The follow-up is rejected
	// for quota, not concurrency.
	e := newEnv(t, nil)

	now := time.Now()
	for i := 0; i < 2; i++ {
		issuedToken(t, e.issue(t, "video-1", browserUA))
	}
	e.store.mu.Lock()
	for i := 2; i < 49; i++ {
		e.store.views = append(e.store.views, models.ViewRecord{
			UserID:   testUserID,
			VideoID:  "video-1",
			ViewedAt: now.Add(-time.Minute),
		})
	}
	e.store.mu.Unlock()

	issuedToken(t, e.issue(t, "video-2", browserUA))

	if count, _ := e.store.ActiveSessionCount(context.Background(), testUserID, now); count != 3 {
		t.Fatalf("expected 3 active sessions, got %d", count)
	}

	w := e.issue(t, "video-2", browserUA)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeDailyQuotaExceeded {
		t.Fatalf("expected %s, got %s", models.CodeDailyQuotaExceeded, code)
	}
}

func TestVerifyMissingToken(t *testing.T) {
	e := newEnv(t, nil)

	w := e.watch(t, "video-1", "", browserUA)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeMissingVideoToken {
		t.Fatalf("expected %s, got %s", models.CodeMissingVideoToken, code)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	e := newEnv(t, nil)

	w := e.watch(t, "video-1", "not-a-token", browserUA)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeInvalidVideoToken {
		t.Fatalf("expected %s, got %s", models.CodeInvalidVideoToken, code)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	e := newEnv(t, nil)

	expired, err := token.Generate(token.Params{
		UserID:    testUserID,
		VideoID:   "video-1",
		BatchID:   testBatchID,
		SessionID: "session-old",
		TTL:       2 * time.Hour,
		IssuedAt:  time.Now().Add(-3 * time.Hour),
	}, []byte("test-secret"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	w := e.watch(t, "video-1", expired, browserUA)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeExpiredVideoToken {
		t.Fatalf("expected %s, got %s", models.CodeExpiredVideoToken, code)
	}
}

func TestVerifySuccessTouchesSession(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	before, _ := e.store.GetActiveSession(context.Background(), resp.SessionID)
	e.handlers.now = func() time.Time { return time.Now().Add(time.Minute) }

	w := e.watch(t, "video-1", resp.Token, browserUA)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	after, _ := e.store.GetActiveSession(context.Background(), resp.SessionID)
	if !after.LastAccessAt.After(before.LastAccessAt) {
		t.Fatal("expected last_access_at to advance on successful verification")
	}

	var body struct {
		SessionID string `json:"session_id"`
		Watermark struct {
			UserID string `json:"userId"`
		} `json:"watermark"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode playback response: %v", err)
	}
	if body.SessionID != resp.SessionID {
		t.Fatalf("expected session %s, got %s", resp.SessionID, body.SessionID)
	}
	if body.Watermark.UserID != testUserID {
		t.Fatalf("expected watermark user %s, got %s", testUserID, body.Watermark.UserID)
	}
}

func TestVerifyAcceptsQueryParameter(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/video-1/stream?"+TokenQueryParam+"="+resp.Token, nil)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 via query parameter, got %d", w.Code)
	}
}

func TestVerifyTerminatedSessionRejected(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	req := httptest.NewRequest(http.MethodDelete, "/api/video-sessions/"+resp.SessionID, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("terminate expected 204, got %d", w.Code)
	}

	// The token is still cryptographically valid and unexpired.
	w = e.watch(t, "video-1", resp.Token, browserUA)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeInvalidVideoSession {
		t.Fatalf("expected %s, got %s", models.CodeInvalidVideoSession, code)
	}

	event := e.audit.last(t)
	if event.Type != "invalid_video_session" || event.RiskLevel != models.RiskMedium {
		t.Fatalf("expected medium-risk invalid session event, got %+v", event)
	}
}

func TestVerifyDeviceMismatch(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	w := e.watch(t, "video-1", resp.Token, "curl/8.4.0")

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != models.CodeDeviceMismatch {
		t.Fatalf("expected %s, got %s", models.CodeDeviceMismatch, code)
	}

	event := e.audit.last(t)
	if event.Type != "device_fingerprint_mismatch" || event.RiskLevel != models.RiskCritical {
		t.Fatalf("expected critical-risk mismatch event, got %+v", event)
	}
}

func TestVerifyRejectsTokenForDifferentVideo(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	w := e.watch(t, "video-2", resp.Token, browserUA)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	resp := issuedToken(t, e.issue(t, "video-1", browserUA))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/video-sessions/"+resp.SessionID, nil)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("terminate call %d expected 204, got %d", i+1, w.Code)
		}
	}

	session := e.store.sessions[resp.SessionID]
	if session.Active {
		t.Fatal("session still active after termination")
	}
	if session.TerminatedAt == nil {
		t.Fatal("expected terminated_at to be stamped")
	}
}

func TestListUserSessionsIncludesInactive(t *testing.T) {
	e := newEnv(t, nil)
	first := issuedToken(t, e.issue(t, "video-1", browserUA))
	issuedToken(t, e.issue(t, "video-2", browserUA))

	if err := e.store.TerminateSession(context.Background(), first.SessionID, time.Now()); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/"+testUserID+"/video-sessions", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp models.SessionListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 sessions including the terminated one, got %d", resp.Count)
	}
}
