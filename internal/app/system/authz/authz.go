// internal/app/system/authz/authz.go
package authz

import (
	"net/http"
	"strings"

	"github.com/dalemusser/strataconnect/internal/app/system/auth"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserCtx returns the actor's platform role (lowercased), name, ObjectID and
// a found flag. A missing actor or a malformed ID yields
// "visitor", "", NilObjectID, false, so ok=true always means a usable ID.
func UserCtx(r *http.Request) (role string, name string, userID primitive.ObjectID, ok bool) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		return "visitor", "", primitive.NilObjectID, false
	}
	userID, valid := user.ObjectID()
	if !valid {
		return "visitor", "", primitive.NilObjectID, false
	}
	return strings.ToLower(user.Role), user.Name, userID, true
}

// ActorID returns the actor's ObjectID. Group and connection permissions are
// never derived from the platform role; engines look them up per call.
func ActorID(r *http.Request) (primitive.ObjectID, bool) {
	_, _, id, ok := UserCtx(r)
	return id, ok
}
