// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"strconv"

	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config controls where each event category is written.
// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only),
// "off" (disabled).
type Config struct {
	Membership string
	Outbox     string
	Drift      string
	Operator   string
}

// Logger writes the engine's audit trail to both MongoDB (via audit.Store)
// and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) settingFor(category string) string {
	switch category {
	case audit.CategoryMembership:
		return l.config.Membership
	case audit.CategoryOutbox:
		return l.config.Outbox
	case audit.CategoryDrift:
		return l.config.Drift
	case audit.CategoryOperator:
		return l.config.Operator
	}
	return "all"
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.Bool("success", event.Success),
	}
	if event.GroupID != nil {
		fields = append(fields, zap.String("group_id", event.GroupID.Hex()))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	if event.Description != "" {
		fields = append(fields, zap.String("description", event.Description))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Error("audit event", fields...)
	}
}

// Log records an audit event per configuration. A nil logger is a no-op so
// engine components can run in tests without audit wiring.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}
	if event.Actor == "" {
		event.Actor = audit.ActorSystem
	}

	setting := l.settingFor(event.Category)
	if setting == "off" {
		return
	}
	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if setting == "all" || setting == "db" {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType))
		}
	}
}

// SyncExhausted records that an outbox event ran out of retries and now
// needs operator attention.
func (l *Logger) SyncExhausted(ctx context.Context, ev models.OutboxEvent) {
	if l == nil {
		return
	}
	groupID, userID := ev.GroupID, ev.UserID
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryOutbox,
		EventType:     audit.EventSyncExhausted,
		GroupID:       &groupID,
		UserID:        &userID,
		Success:       false,
		FailureReason: ev.LastError,
		Description:   "external sync retries exhausted for " + ev.EventType,
		Details: map[string]string{
			"event_id":   ev.ID.Hex(),
			"event_type": ev.EventType,
			"dedup_key":  ev.DedupKey,
		},
	})
}

// DriftDetected records one expected-vs-actual divergence on an external
// resource.
func (l *Logger) DriftDetected(ctx context.Context, groupID primitive.ObjectID, resourceID string, missing, extra int) {
	if l == nil {
		return
	}
	l.Log(ctx, audit.Event{
		Category:    audit.CategoryDrift,
		EventType:   audit.EventDriftDetected,
		GroupID:     &groupID,
		Success:     false,
		Description: "external grants diverge from internal membership",
		Details: map[string]string{
			"resource_id":        resourceID,
			"missing_externally": strconv.Itoa(missing),
			"extra_externally":   strconv.Itoa(extra),
		},
	})
}

// DriftApplied records a manual catch-up fix on an external resource.
func (l *Logger) DriftApplied(ctx context.Context, groupID primitive.ObjectID, resourceID string, granted, revoked int) {
	if l == nil {
		return
	}
	l.Log(ctx, audit.Event{
		Category:    audit.CategoryDrift,
		EventType:   audit.EventDriftApplied,
		GroupID:     &groupID,
		Success:     true,
		Description: "drift corrected by operator apply",
		Details: map[string]string{
			"resource_id": resourceID,
			"granted":     strconv.Itoa(granted),
			"revoked":     strconv.Itoa(revoked),
		},
	})
}

// OperatorAction records a manual run-now trigger.
func (l *Logger) OperatorAction(ctx context.Context, eventType, actor, description string) {
	if l == nil {
		return
	}
	l.Log(ctx, audit.Event{
		Category:    audit.CategoryOperator,
		EventType:   eventType,
		Actor:       actor,
		Success:     true,
		Description: description,
	})
}
