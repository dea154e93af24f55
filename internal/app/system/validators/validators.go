// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/strataconnect/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. Collections must exist before the first transaction touches
// them. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	// helper: ensure collection exists (with truthful logging) and then validator (if provided)
	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			// DocumentDB or other deployments may not support collMod/validators.
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	// Users belong to the identity service; we only make sure the collection
	// exists so transactions never have to create it implicitly.
	ensure("users", nil)

	ensure("connections", connectionsSchema())
	ensure("conversations", conversationsSchema())
	ensure("messages", messagesSchema())
	ensure("group_messages", messagesSchema())

	ensure("groups", groupsSchema())
	ensure("group_memberships", groupMembershipsSchema())
	ensure("group_invitations", rosterRowSchema("invited_by_id", "invited_at"))
	ensure("group_join_requests", rosterRowSchema("", "requested_at"))

	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
// Uses ListCollectionNames to avoid "created collection" log when it didn't.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		zap.L().Info("collection exists", zap.String("collection", name))
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		// NamespaceExists / already exists is fine (race or prior run).
		if isNamespaceExistsErr(err) {
			zap.L().Info("collection exists", zap.String("collection", name))
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}

func enum(vals ...string) bson.M {
	a := bson.A{}
	for _, v := range vals {
		a = append(a, v)
	}
	return bson.M{"enum": a}
}

func connectionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"requester_id", "recipient_id", "pair_key", "status", "requested_at"},
			"properties": bson.M{
				"requester_id": bson.M{"bsonType": "objectId"},
				"recipient_id": bson.M{"bsonType": "objectId"},
				"pair_key":     nonBlank,
				"status": enum(models.ConnectionPending, models.ConnectionAccepted,
					models.ConnectionRejected, models.ConnectionBlocked),
				"requested_at":    bson.M{"bsonType": "date"},
				"conversation_id": bson.M{"bsonType": "objectId"},
			},
		},
	}
}

func conversationsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"participant_ids", "participant_key", "connection_id", "is_active"},
			"properties": bson.M{
				"participant_ids": bson.M{"bsonType": "array", "minItems": 2, "items": bson.M{"bsonType": "objectId"}},
				"participant_key": nonBlank,
				"connection_id":   bson.M{"bsonType": "objectId"},
				"is_active":       bson.M{"bsonType": "bool"},
			},
		},
	}
}

func messagesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"thread_id", "sender_id", "text", "created_at"},
			"properties": bson.M{
				"thread_id":  bson.M{"bsonType": "objectId"},
				"sender_id":  bson.M{"bsonType": "objectId"},
				"text":       bson.M{"bsonType": "string"},
				"read_by":    bson.M{"bsonType": bson.A{"array", "null"}},
				"created_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func groupsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "name_ci", "owner_id", "visibility"},
			"properties": bson.M{
				"name":       nonBlank,
				"name_ci":    nonBlank,
				"owner_id":   bson.M{"bsonType": "objectId"},
				"visibility": enum(models.VisibilityPublic, models.VisibilityPrivate),
				"tags":       bson.M{"bsonType": bson.A{"array", "null"}},
			},
		},
	}
}

func groupMembershipsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"group_id", "user_id", "role", "joined_at"},
			"properties": bson.M{
				"group_id":  bson.M{"bsonType": "objectId"},
				"user_id":   bson.M{"bsonType": "objectId"},
				"role":      enum(models.RoleAdmin, models.RoleModerator, models.RoleMember),
				"joined_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

// rosterRowSchema covers invitations and join requests, which share the
// (group_id, user_id) shape.
func rosterRowSchema(actorField, timeField string) bson.M {
	required := bson.A{"group_id", "user_id", timeField}
	props := bson.M{
		"group_id": bson.M{"bsonType": "objectId"},
		"user_id":  bson.M{"bsonType": "objectId"},
		timeField:  bson.M{"bsonType": "date"},
	}
	if actorField != "" {
		required = append(required, actorField)
		props[actorField] = bson.M{"bsonType": "objectId"}
	}
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType":   "object",
			"required":   required,
			"properties": props,
		},
	}
}
