// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each collection's index set is reconciled
idempotently. Problems are aggregated so every failing collection is visible
and startup can fail fast.

The unique indexes below are load-bearing: they are what keeps one connection
per user pair, one conversation per participant set and one roster row per
(group, user) when requests race.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string
	for _, spec := range collections() {
		if err := ensureIndexSet(ctx, db.Collection(spec.name), spec.models); err != nil {
			problems = append(problems, spec.name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type collectionSpec struct {
	name   string
	models []mongo.IndexModel
}

func idx(name string, unique bool, keys ...bson.E) mongo.IndexModel {
	opts := options.Index().SetName(name)
	if unique {
		opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: bson.D(keys), Options: opts}
}

func asc(k string) bson.E  { return bson.E{Key: k, Value: 1} }
func desc(k string) bson.E { return bson.E{Key: k, Value: -1} }

func collections() []collectionSpec {
	return []collectionSpec{
		{"users", []mongo.IndexModel{
			idx("idx_users_fullnameci_id", false, asc("full_name_ci"), asc("_id")),
		}},
		{"connections", []mongo.IndexModel{
			idx("uniq_connections_pair", true, asc("pair_key")),
			idx("idx_connections_requester_status_last", false, asc("requester_id"), asc("status"), desc("last_interaction_at")),
			idx("idx_connections_recipient_status_last", false, asc("recipient_id"), asc("status"), desc("last_interaction_at")),
		}},
		{"conversations", []mongo.IndexModel{
			idx("uniq_conversations_participants", true, asc("participant_key")),
			idx("idx_conversations_participant_updated", false, asc("participant_ids"), desc("updated_at")),
			idx("idx_conversations_connection", false, asc("connection_id")),
		}},
		{"messages", []mongo.IndexModel{
			idx("idx_messages_thread_id", false, asc("thread_id"), desc("_id")),
		}},
		{"group_messages", []mongo.IndexModel{
			idx("idx_group_messages_thread_id", false, asc("thread_id"), desc("_id")),
			idx("idx_group_messages_thread_pinned", false, asc("thread_id"), asc("is_pinned")),
		}},
		{"groups", []mongo.IndexModel{
			idx("idx_groups_visibility_nameci_id", false, asc("visibility"), asc("name_ci"), asc("_id")),
			idx("idx_groups_tags", false, asc("tags")),
			idx("idx_groups_owner", false, asc("owner_id")),
		}},
		{"group_memberships", []mongo.IndexModel{
			idx("uniq_gm_group_user", true, asc("group_id"), asc("user_id")),
			idx("idx_gm_user_joined", false, asc("user_id"), desc("joined_at")),
			idx("idx_gm_group_role", false, asc("group_id"), asc("role")),
		}},
		{"group_invitations", []mongo.IndexModel{
			idx("uniq_ginv_group_user", true, asc("group_id"), asc("user_id")),
			idx("idx_ginv_user_invited", false, asc("user_id"), desc("invited_at")),
		}},
		{"group_join_requests", []mongo.IndexModel{
			idx("uniq_gjr_group_user", true, asc("group_id"), asc("user_id")),
			idx("idx_gjr_group_requested", false, asc("group_id"), asc("requested_at")),
		}},
		{"audit_events", []mongo.IndexModel{
			idx("idx_audit_timestamp", false, desc("timestamp")),
			idx("idx_audit_user_timestamp", false, asc("user_id"), desc("timestamp")),
			idx("idx_audit_group_timestamp", false, asc("group_id"), desc("timestamp")),
			idx("idx_audit_category_event_timestamp", false, asc("category"), asc("event_type"), desc("timestamp")),
		}},
	}
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func isUnique(b *bool) bool { return b != nil && *b }

func listExisting(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	existing := map[string]existingIndex{}
	for cur.Next(ctx) {
		var ix existingIndex
		if err := cur.Decode(&ix); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(ix.Key)] = ix
	}
	return existing, cur.Err()
}

// ensureIndexSet makes coll carry every model: an index with the same key
// pattern and uniqueness is reused (renamed if needed), one with different
// uniqueness is dropped and recreated, and missing ones are created.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing, err := listExisting(ctx, coll)
	if err != nil {
		// A collection that does not exist yet has no indexes to reconcile.
		existing = map[string]existingIndex{}
	}

	var errs []string
	for _, m := range models {
		name := *m.Options.Name
		unique := isUnique(m.Options.Unique)
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()

		ex, found := existing[sig]
		switch {
		case found && isUnique(ex.Unique) == unique && ex.Name == name:
			zap.L().Debug("reusing existing index",
				zap.String("collection", coll.Name()),
				zap.String("name", name))
			continue
		case found:
			// Name or uniqueness differs; rebuild under the desired options.
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), ex.Name, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if unique && wafflemongo.IsDup(err) {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present on %s)", coll.Name(), name, sig))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			}
			continue
		}
		zap.L().Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.Bool("unique", unique),
			zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
