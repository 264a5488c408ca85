// Package audit records human decisions and suspicious access for SIEM consumption.
// Events are logged as structured JSON under the "security_audit" logger so
// they can be filtered from ordinary request logs.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
)

// SecurityEventType categorizes audit events for filtering and alerting.
type SecurityEventType string

const (
	// EventConflictResolved is logged when a human answers a conflict prompt.
	EventConflictResolved SecurityEventType = "conflict_resolved"
	// EventUnknownConflictToken is logged when a resolve names a token that does not exist.
	// Repeated hits from one client suggest token guessing.
	EventUnknownConflictToken SecurityEventType = "unknown_conflict_token"
	// EventDraftReviewed is logged when a pending approval is approved or rejected.
	EventDraftReviewed SecurityEventType = "draft_reviewed"
)

// SecurityEvent is one auditable event with the caller it is attributed to.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// ReviewDetails describes a review of one draft or a whole batch.
type ReviewDetails struct {
	Decision   string `json:"decision"` // approve, reject
	ApprovalID string `json:"approval_id,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	Processed  int    `json:"processed,omitempty"`
	Failed     int    `json:"failed,omitempty"`
}

// SecurityAuditor logs audit events.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogConflictResolved records which choice a caller made for a conflict token.
// alreadyResolved marks a late answer that changed nothing.
func (a *SecurityAuditor) LogConflictResolved(ctx context.Context, token, choice string, alreadyResolved bool, clientIP string) {
	event := a.event(ctx, EventConflictResolved, "info", clientIP, map[string]any{
		"token":            token,
		"choice":           choice,
		"already_resolved": alreadyResolved,
	})
	a.logger.Info("Conflict resolved",
		zap.String("event_json", marshal(event)),
		zap.String("token", token),
		zap.String("choice", choice),
		zap.Bool("already_resolved", alreadyResolved),
		zap.String("owner_id", event.OwnerID),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

// LogUnknownConflictToken records a resolve against a token that does not exist.
func (a *SecurityAuditor) LogUnknownConflictToken(ctx context.Context, token, clientIP string) {
	event := a.event(ctx, EventUnknownConflictToken, "warning", clientIP, map[string]string{
		"token": token,
	})
	a.logger.Warn("Unknown conflict token",
		zap.String("event_json", marshal(event)),
		zap.String("token", token),
		zap.String("owner_id", event.OwnerID),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

// LogDraftReviewed records an approve or reject of a draft or batch.
func (a *SecurityAuditor) LogDraftReviewed(ctx context.Context, details ReviewDetails, clientIP string) {
	event := a.event(ctx, EventDraftReviewed, "info", clientIP, details)
	a.logger.Info("Draft reviewed",
		zap.String("event_json", marshal(event)),
		zap.String("decision", details.Decision),
		zap.String("approval_id", details.ApprovalID),
		zap.String("batch_id", details.BatchID),
		zap.String("owner_id", event.OwnerID),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

func (a *SecurityAuditor) event(ctx context.Context, t SecurityEventType, severity, clientIP string, details any) SecurityEvent {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: t,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}
	if claims, ok := auth.GetClaims(ctx); ok {
		event.OwnerID = claims.OwnerID
		event.Subject = claims.Subject
	}
	return event
}

// marshal ignores errors; every event holds only JSON-safe types.
func marshal(event SecurityEvent) string {
	b, _ := json.Marshal(event)
	return string(b)
}
