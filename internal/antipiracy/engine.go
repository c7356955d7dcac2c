package antipiracy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"coursehall/api_video/internal/audit"
	"coursehall/api_video/internal/models"
	"coursehall/api_video/pkg/ctxkeys"
	"coursehall/api_video/pkg/logging"
)

// Engine runs the configured rules against each content request. Rule
// evaluation failures never block playback: a broken heuristic must not
// take legitimate viewers down with it.
type Engine struct {
	rules    []Rule
	audit    audit.Recorder
	logger   logging.Logger
	detected *prometheus.CounterVec
}

// NewEngine creates a rule engine. The metric vector may be nil.
func NewEngine(rules []Rule, recorder audit.Recorder, logger logging.Logger, detected *prometheus.CounterVec) *Engine {
	return &Engine{rules: rules, audit: recorder, logger: logger, detected: detected}
}

// Middleware evaluates every rule in order. All detections are audited at
// high risk; only a detection from an enforcing rule rejects the request.
func (e *Engine) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &RequestInfo{
			UserID:    c.GetString(string(ctxkeys.KeyUserID)),
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}

		for _, rule := range e.rules {
			detection, err := rule.Detect(c.Request.Context(), req)
			if err != nil {
				e.logger.WithFields(logging.Fields{
					"rule":  rule.Name(),
					"error": err,
				}).Warn("Pattern rule evaluation failed, skipping")
				continue
			}
			if detection == nil {
				continue
			}

			e.audit.Record(c.Request.Context(), models.SecurityEvent{
				Type:      audit.EventSuspiciousActivity,
				RiskLevel: models.RiskHigh,
				UserID:    req.UserID,
				ClientIP:  req.ClientIP,
				UserAgent: req.UserAgent,
				Detail:    detection.Detail,
			})
			if e.detected != nil {
				e.detected.WithLabelValues(audit.EventSuspiciousActivity, models.RiskHigh).Inc()
			}

			if rule.Enforcing() {
				c.JSON(http.StatusForbidden, models.ErrorResponse{
					Error: "Suspicious activity detected",
					Code:  models.CodeSuspiciousActivity,
				})
				c.Abort()
				return
			}
		}

		c.Next()
	}
}
