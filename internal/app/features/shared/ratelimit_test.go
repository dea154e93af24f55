package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/ratelimit"
	"github.com/dalemusser/strataconnect/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLimitWrites(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	defer l.Stop()

	h := LimitWrites(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	actor := primitive.NewObjectID()

	serve := func(method string, who primitive.ObjectID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", nil)
		if !who.IsZero() {
			req = testutil.WithUser(req, who)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve(http.MethodPost, actor); rec.Code != http.StatusNoContent {
		t.Fatalf("first write: got %d", rec.Code)
	}
	rec := serve(http.MethodPost, actor)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second write: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := serve(http.MethodGet, actor); rec.Code != http.StatusNoContent {
		t.Errorf("reads are not limited: got %d", rec.Code)
	}
	if rec := serve(http.MethodPost, primitive.NewObjectID()); rec.Code != http.StatusNoContent {
		t.Errorf("other actors are not limited: got %d", rec.Code)
	}
	if rec := serve(http.MethodPost, primitive.NilObjectID); rec.Code != http.StatusNoContent {
		t.Errorf("anonymous requests pass through: got %d", rec.Code)
	}
}

func TestLimitWrites_NilDisables(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if got := LimitWrites(nil)(next); got == nil {
		t.Fatal("expected passthrough handler")
	}
}
