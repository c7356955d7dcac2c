// Package antipiracy evaluates heuristic pattern rules on content-serving
// routes. Each rule is an independent strategy carrying its own enforcement
// policy; detection always leaves an audit trail even when the rule is
// observe-only.
package antipiracy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursehall/api_video/internal/ratelimit"
	"coursehall/api_video/internal/store"
)

// RequestInfo carries the request attributes the rules inspect.
type RequestInfo struct {
	UserID    string
	ClientIP  string
	UserAgent string
}

// Detection describes a matched pattern.
type Detection struct {
	Rule   string
	Detail string
}

// Rule is one detection strategy. Enforcing rules reject the request on
// detection; observe-only rules just record it, trading strict enforcement
// for a lower false-positive rate.
type Rule interface {
	Name() string
	Enforcing() bool
	Detect(ctx context.Context, req *RequestInfo) (*Detection, error)
}

// RapidRequestRule flags bursts of content requests from one address inside
// a rolling window. Observe-only.
type RapidRequestRule struct {
	counter ratelimit.Counter
	limit   int64
	window  time.Duration
}

// NewRapidRequestRule creates the burst-detection rule.
func NewRapidRequestRule(counter ratelimit.Counter, limit int, window time.Duration) *RapidRequestRule {
	return &RapidRequestRule{counter: counter, limit: int64(limit), window: window}
}

func (r *RapidRequestRule) Name() string    { return "rapid_requests" }
func (r *RapidRequestRule) Enforcing() bool { return false }

func (r *RapidRequestRule) Detect(ctx context.Context, req *RequestInfo) (*Detection, error) {
	count, err := r.counter.Increment(ctx, "rapid:"+req.ClientIP, r.window)
	if err != nil {
		return nil, fmt.Errorf("rapid request counter: %w", err)
	}
	if count > r.limit {
		return &Detection{
			Rule:   r.Name(),
			Detail: fmt.Sprintf("%d requests within %s from %s", count, r.window, req.ClientIP),
		}, nil
	}
	return nil, nil
}

// SuspiciousClientRule flags declared client strings associated with
// scraping and download tooling. Observe-only.
type SuspiciousClientRule struct {
	keywords []string
}

// DefaultSuspiciousKeywords are matched case-insensitively against the
// declared user agent.
var DefaultSuspiciousKeywords = []string{
	"curl", "wget", "python-requests", "ffmpeg", "youtube-dl", "yt-dlp", "aria2",
}

// NewSuspiciousClientRule creates the client-string rule. Passing nil
// keywords selects the defaults.
func NewSuspiciousClientRule(keywords []string) *SuspiciousClientRule {
	if keywords == nil {
		keywords = DefaultSuspiciousKeywords
	}
	return &SuspiciousClientRule{keywords: keywords}
}

func (r *SuspiciousClientRule) Name() string    { return "suspicious_client" }
func (r *SuspiciousClientRule) Enforcing() bool { return false }

func (r *SuspiciousClientRule) Detect(_ context.Context, req *RequestInfo) (*Detection, error) {
	agent := strings.ToLower(req.UserAgent)
	for _, kw := range r.keywords {
		if strings.Contains(agent, kw) {
			return &Detection{
				Rule:   r.Name(),
				Detail: fmt.Sprintf("client %q matched keyword %q", req.UserAgent, kw),
			}, nil
		}
	}
	return nil, nil
}

// MultiSessionRule flags too many concurrent active sessions from one
// network address. This is the one enforcing rule: detection rejects the
// request.
type MultiSessionRule struct {
	sessions store.SessionStore
	max      int
	now      func() time.Time
}

// NewMultiSessionRule creates the per-address session threshold rule.
func NewMultiSessionRule(sessions store.SessionStore, max int) *MultiSessionRule {
	return &MultiSessionRule{sessions: sessions, max: max, now: time.Now}
}

func (r *MultiSessionRule) Name() string    { return "multiple_sessions_per_address" }
func (r *MultiSessionRule) Enforcing() bool { return true }

func (r *MultiSessionRule) Detect(ctx context.Context, req *RequestInfo) (*Detection, error) {
	count, err := r.sessions.ActiveSessionCountByIP(ctx, req.ClientIP, r.now())
	if err != nil {
		return nil, fmt.Errorf("sessions per address: %w", err)
	}
	if count > r.max {
		return &Detection{
			Rule:   r.Name(),
			Detail: fmt.Sprintf("%d active sessions from %s (max %d)", count, req.ClientIP, r.max),
		}, nil
	}
	return nil, nil
}
