// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"strconv"

	"github.com/dalemusser/strataconnect/internal/app/store/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Social controls connection, group and moderation events.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Social string
}

// Logger records audit events to MongoDB (via audit.Store) and zap.
//
// Engines call it after their transaction has committed, never inside it,
// so a rolled-back change is never audited.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.GroupID != nil {
		fields = append(fields, zap.String("group_id", event.GroupID.Hex()))
	}
	if event.ConnectionID != nil {
		fields = append(fields, zap.String("connection_id", event.ConnectionID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records event according to configuration. A nil Logger is a no-op.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryConnections, audit.CategoryGroups, audit.CategoryModeration:
		setting = l.config.Social
	default:
		setting = "all"
	}
	if setting == "" {
		setting = "all"
	}
	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}
	if setting == "all" || setting == "db" {
		if err := l.store.Log(context.WithoutCancel(ctx), event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType))
		}
	}
}

func ptr(id primitive.ObjectID) *primitive.ObjectID { return &id }

// --- Connection events ---

// ConnectionAccepted logs the recipient accepting a request.
func (l *Logger) ConnectionAccepted(ctx context.Context, actorID, requesterID, connectionID, conversationID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:     audit.CategoryConnections,
		EventType:    audit.EventConnectionAccepted,
		ActorID:      ptr(actorID),
		UserID:       ptr(requesterID),
		ConnectionID: ptr(connectionID),
		Success:      true,
		Details:      map[string]string{"conversation_id": conversationID.Hex()},
	})
}

func (l *Logger) ConnectionBlocked(ctx context.Context, actorID, requesterID, connectionID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:     audit.CategoryConnections,
		EventType:    audit.EventConnectionBlocked,
		ActorID:      ptr(actorID),
		UserID:       ptr(requesterID),
		ConnectionID: ptr(connectionID),
		Success:      true,
	})
}

// ConnectionRemoved logs an accepted connection being dissolved along with
// its conversation.
func (l *Logger) ConnectionRemoved(ctx context.Context, actorID, otherID, connectionID primitive.ObjectID, messagesDeleted int64) {
	l.Log(ctx, audit.Event{
		Category:     audit.CategoryConnections,
		EventType:    audit.EventConnectionRemoved,
		ActorID:      ptr(actorID),
		UserID:       ptr(otherID),
		ConnectionID: ptr(connectionID),
		Success:      true,
		Details:      map[string]string{"messages_deleted": strconv.FormatInt(messagesDeleted, 10)},
	})
}

// --- Group events ---

func (l *Logger) GroupCreated(ctx context.Context, actorID, groupID primitive.ObjectID, name, visibility string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventGroupCreated,
		ActorID:   ptr(actorID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"name": name, "visibility": visibility},
	})
}

func (l *Logger) GroupUpdated(ctx context.Context, actorID, groupID primitive.ObjectID, fields string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventGroupUpdated,
		ActorID:   ptr(actorID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"fields": fields},
	})
}

// GroupDeleted logs a cascade delete. reason is "admin_delete" or
// "last_member_left".
func (l *Logger) GroupDeleted(ctx context.Context, actorID, groupID primitive.ObjectID, reason string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventGroupDeleted,
		ActorID:   ptr(actorID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"reason": reason},
	})
}

func (l *Logger) MemberRoleChanged(ctx context.Context, actorID, targetID, groupID primitive.ObjectID, from, to string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventMemberRoleChanged,
		ActorID:   ptr(actorID),
		UserID:    ptr(targetID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"from": from, "to": to},
	})
}

func (l *Logger) MemberRemoved(ctx context.Context, actorID, targetID, groupID primitive.ObjectID, targetRole string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventMemberRemoved,
		ActorID:   ptr(actorID),
		UserID:    ptr(targetID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"role": targetRole},
	})
}

func (l *Logger) JoinRequestApproved(ctx context.Context, actorID, userID, groupID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryGroups,
		EventType: audit.EventJoinApproved,
		ActorID:   ptr(actorID),
		UserID:    ptr(userID),
		GroupID:   ptr(groupID),
		Success:   true,
	})
}

// --- Moderation events ---

// MessageModerated logs a moderator acting on someone else's group message.
// eventType is one of the audit.EventMessage* constants.
func (l *Logger) MessageModerated(ctx context.Context, eventType string, actorID, senderID, groupID, messageID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryModeration,
		EventType: eventType,
		ActorID:   ptr(actorID),
		UserID:    ptr(senderID),
		GroupID:   ptr(groupID),
		Success:   true,
		Details:   map[string]string{"message_id": messageID.Hex()},
	})
}
