package connections_test

import (
	"net/http"
	"testing"

	enginepkg "github.com/dalemusser/strataconnect/internal/app/engine/connections"
	"github.com/dalemusser/strataconnect/internal/app/features/connections"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func passthrough(next http.Handler) http.Handler { return next }

func newRouter(t *testing.T) (http.Handler, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	engine := enginepkg.New(enginepkg.Deps{DB: db, Log: logger})
	h := connections.NewHandler(engine, logger)
	return connections.Routes(h, passthrough), testutil.NewFixtures(t, db)
}

func do(router http.Handler, req *http.Request, actor primitive.ObjectID) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	router.ServeHTTP(rec, testutil.WithUser(req, actor))
	return rec
}

func TestRequestAndRespond(t *testing.T) {
	router, fx := newRouter(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	users := fx.CreateUsers(ctx, "A", "B")
	a, b := users[0], users[1]

	rec := do(router, testutil.JSONRequest(t, http.MethodPost, "/", map[string]string{"recipient_id": b.ID.Hex(), "message": "hi"}), a.ID)
	rec.AssertStatus(t, http.StatusCreated)
	var conn struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	rec.DecodeJSON(t, &conn)
	if conn.Status != "pending" {
		t.Fatalf("status: got %q, want pending", conn.Status)
	}

	rec = do(router, testutil.JSONRequest(t, http.MethodPost, "/", map[string]string{"recipient_id": a.ID.Hex()}), b.ID)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"code":"DuplicateRelationship"`)

	rec = do(router, testutil.JSONRequest(t, http.MethodPost, "/"+conn.ID+"/respond", map[string]string{"decision": "accept"}), a.ID)
	rec.AssertStatus(t, http.StatusForbidden)

	rec = do(router, testutil.JSONRequest(t, http.MethodPost, "/"+conn.ID+"/respond", map[string]string{"decision": "accept"}), b.ID)
	rec.AssertStatus(t, http.StatusOK)
	var res struct {
		Connection struct {
			Status string `json:"status"`
		} `json:"connection"`
		Conversation *struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	rec.DecodeJSON(t, &res)
	if res.Connection.Status != "accepted" || res.Conversation == nil {
		t.Fatalf("unexpected respond result: %s", rec.Body.String())
	}

	rec = do(router, testutil.JSONRequest(t, http.MethodPost, "/"+conn.ID+"/respond", map[string]string{"decision": "reject"}), b.ID)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "AlreadyResolved")

	rec = do(router, testutil.JSONRequest(t, http.MethodGet, "/?status=accepted", nil), a.ID)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"total":1`)

	rec = do(router, testutil.JSONRequest(t, http.MethodDelete, "/"+conn.ID, nil), a.ID)
	rec.AssertStatus(t, http.StatusOK)

	rec = do(router, testutil.JSONRequest(t, http.MethodGet, "/"+conn.ID, nil), a.ID)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestBadInput(t *testing.T) {
	router, fx := newRouter(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := fx.CreateUser(ctx, "A")

	rec := do(router, testutil.JSONRequest(t, http.MethodPost, "/", map[string]string{"recipient_id": "nope"}), a.ID)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"recipient_id":"must be a valid id"`)

	rec = do(router, testutil.JSONRequest(t, http.MethodGet, "/not-an-id", nil), a.ID)
	rec.AssertStatus(t, http.StatusBadRequest)

	rec = do(router, testutil.JSONRequest(t, http.MethodPost, "/", map[string]string{"recipient_id": a.ID.Hex()}), a.ID)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "SelfReference")

	rec = do(router, testutil.JSONRequest(t, http.MethodGet, "/incoming", nil), a.ID)
	rec.AssertStatus(t, http.StatusOK)
}
