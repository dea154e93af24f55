package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Actor resolution                                                            |
|                                                                             |
| Identity is owned elsewhere. A request carries its actor either in a        |
| gorilla session cookie written by the identity service, or in a signed      |
| header pair for service-to-service calls:                                   |
|   X-User-ID:        actor ObjectID hex                                      |
|   X-User-Signature: hex(HMAC-SHA256(signing key, X-User-ID))                |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	HeaderUserID    = "X-User-ID"
	HeaderSignature = "X-User-Signature"

	isAuthKey = "is_authenticated"
	userIDKey = "user_id"
	userName  = "user_name"
	userRole  = "user_role"
)

// SessionUser is the resolved actor injected into r.Context().
type SessionUser struct {
	ID   string
	Name string
	Role string
}

// ObjectID parses ID. ok is false when it is malformed.
func (u *SessionUser) ObjectID() (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(u.ID)
	return id, err == nil
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the actor and a found flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok
}

// WithTestUser injects u into r's context. Handler tests use it to skip the
// cookie and signature round-trip.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

// SessionManager resolves actors from session cookies and signed headers.
type SessionManager struct {
	store       *sessions.CookieStore
	name        string
	signingKeys [][]byte
	log         *zap.Logger
}

// NewSessionManager builds a SessionManager. signingKeys is a comma-separated
// list; any key verifies a signature so keys can be rotated. An empty list
// disables header authentication.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, signingKeys string, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}

	var keys [][]byte
	for _, k := range strings.Split(signingKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}

	logger.Info("session manager initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.Int("signing_keys", len(keys)))

	return &SessionManager{store: store, name: name, signingKeys: keys, log: logger}, nil
}

// DevSessionKey returns a random key for local development when none is
// configured. Sessions do not survive a restart with it.
func DevSessionKey() string {
	return hex.EncodeToString(securecookie.GenerateRandomKey(32))
}

// Sign computes the X-User-Signature value for userID.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (sm *SessionManager) verify(userID, sig string) bool {
	for _, k := range sm.signingKeys {
		if hmac.Equal([]byte(Sign(string(k), userID)), []byte(sig)) {
			return true
		}
	}
	return false
}

// LoadActor injects the actor into context when the request carries a valid
// signed header pair or an authenticated session. A bad signature is
// rejected outright instead of falling back to the cookie.
func (sm *SessionManager) LoadActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		sig := strings.TrimSpace(r.Header.Get(HeaderSignature))

		if userID != "" || sig != "" {
			if len(sm.signingKeys) == 0 || userID == "" || sig == "" || !sm.verify(userID, sig) {
				sm.log.Warn("invalid actor signature",
					zap.String("user_id", userID),
					zap.String("path", r.URL.Path))
				writeUnauthorized(w, "invalid actor signature")
				return
			}
			next.ServeHTTP(w, withUser(r, &SessionUser{ID: userID}))
			return
		}

		sess, _ := sm.store.Get(r, sm.name)
		if isAuth, _ := sess.Values[isAuthKey].(bool); isAuth {
			r = withUser(r, &SessionUser{
				ID:   getString(sess, userIDKey),
				Name: getString(sess, userName),
				Role: getString(sess, userRole),
			})
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSignedIn rejects requests without a valid actor with 401.
func (sm *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := CurrentUser(r)
		if !ok {
			writeUnauthorized(w, "sign in required")
			return
		}
		if _, valid := u.ObjectID(); !valid {
			writeUnauthorized(w, "malformed actor id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SignIn stores u in the session cookie.
func (sm *SessionManager) SignIn(w http.ResponseWriter, r *http.Request, u SessionUser) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = u.ID
	sess.Values[userName] = u.Name
	sess.Values[userRole] = u.Role
	return sess.Save(r, w)
}

// helpers

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    "unauthenticated",
			"code":    "Unauthenticated",
			"message": msg,
		},
	})
}
