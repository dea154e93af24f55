package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/auth"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const signingKey = "test-signing-key"

func newTestSessionManager(t *testing.T) *auth.SessionManager {
	t.Helper()
	sm, err := auth.NewSessionManager(
		"test-session-key-must-be-32-chars-long",
		"test-session",
		"",
		24*time.Hour,
		false,
		"old-key, "+signingKey,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	return sm
}

// echoActor writes the resolved actor ID, or 204 when none.
func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := auth.CurrentUser(r)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(u.ID))
	})
}

func TestNewSessionManager_EmptyKey(t *testing.T) {
	if _, err := auth.NewSessionManager("", "s", "", time.Hour, false, "", zap.NewNop()); err == nil {
		t.Error("expected error for empty session key")
	}
}

func TestLoadActor_SignedHeader(t *testing.T) {
	sm := newTestSessionManager(t)
	id := primitive.NewObjectID().Hex()

	req := httptest.NewRequest("GET", "/groups", nil)
	req.Header.Set(auth.HeaderUserID, id)
	req.Header.Set(auth.HeaderSignature, auth.Sign(signingKey, id))
	rec := httptest.NewRecorder()
	sm.LoadActor(echoActor()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != id {
		t.Errorf("got %d %q, want 200 %q", rec.Code, rec.Body.String(), id)
	}
}

func TestLoadActor_RotatedKeyAccepted(t *testing.T) {
	sm := newTestSessionManager(t)
	id := primitive.NewObjectID().Hex()

	req := httptest.NewRequest("GET", "/groups", nil)
	req.Header.Set(auth.HeaderUserID, id)
	req.Header.Set(auth.HeaderSignature, auth.Sign("old-key", id))
	rec := httptest.NewRecorder()
	sm.LoadActor(echoActor()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected old key to verify, got %d", rec.Code)
	}
}

func TestLoadActor_BadSignature(t *testing.T) {
	sm := newTestSessionManager(t)
	id := primitive.NewObjectID().Hex()

	tests := []struct {
		name string
		uid  string
		sig  string
	}{
		{"wrong key", id, auth.Sign("other", id)},
		{"signature for other user", id, auth.Sign(signingKey, primitive.NewObjectID().Hex())},
		{"missing signature", id, ""},
		{"missing user", "", auth.Sign(signingKey, id)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/groups", nil)
			if tt.uid != "" {
				req.Header.Set(auth.HeaderUserID, tt.uid)
			}
			if tt.sig != "" {
				req.Header.Set(auth.HeaderSignature, tt.sig)
			}
			rec := httptest.NewRecorder()
			sm.LoadActor(echoActor()).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestLoadActor_SessionCookie(t *testing.T) {
	sm := newTestSessionManager(t)
	id := primitive.NewObjectID().Hex()

	// Write the cookie.
	rec := httptest.NewRecorder()
	if err := sm.SignIn(rec, httptest.NewRequest("GET", "/", nil), auth.SessionUser{ID: id, Name: "Ada", Role: "student"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie")
	}

	req := httptest.NewRequest("GET", "/groups", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	sm.LoadActor(echoActor()).ServeHTTP(rec, req)
	if rec.Body.String() != id {
		t.Errorf("expected actor %q from cookie, got %q", id, rec.Body.String())
	}
}

func TestLoadActor_Anonymous(t *testing.T) {
	sm := newTestSessionManager(t)
	rec := httptest.NewRecorder()
	sm.LoadActor(echoActor()).ServeHTTP(rec, httptest.NewRequest("GET", "/groups", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected no actor, got %d", rec.Code)
	}
}

func TestRequireSignedIn(t *testing.T) {
	sm := newTestSessionManager(t)
	h := sm.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		user *auth.SessionUser
		want int
	}{
		{"no user", nil, http.StatusUnauthorized},
		{"malformed id", &auth.SessionUser{ID: "nope"}, http.StatusUnauthorized},
		{"valid", &auth.SessionUser{ID: primitive.NewObjectID().Hex()}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/groups", nil)
			if tt.user != nil {
				req = auth.WithTestUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDevSessionKey(t *testing.T) {
	a, b := auth.DevSessionKey(), auth.DevSessionKey()
	if len(a) != 64 || a == b {
		t.Errorf("unexpected dev keys %q %q", a, b)
	}
}
