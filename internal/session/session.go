// Package session handles saving/loading users to/from sessions
package session

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	cookieName = "sessionid"
	userIDKey  = "userID"
)

type contextKey struct{}

// Store keeps the logged in user in a signed cookie.
type Store struct {
	cookies *sessions.CookieStore
}

func NewStore(secretKey string) *Store {
	cookies := sessions.NewCookieStore([]byte(secretKey))
	// Sessions end when the browser closes.
	cookies.Options.MaxAge = 0
	cookies.Options.HttpOnly = true
	cookies.Options.SameSite = http.SameSiteLaxMode

	return &Store{cookies: cookies}
}

// LoadUserID returns the user stored in the request's session cookie.
func (store *Store) LoadUserID(request *http.Request) (int64, bool) {
	session, err := store.cookies.Get(request, cookieName)

	if err != nil {
		return 0, false
	}

	userID, ok := session.Values[userIDKey].(int64)

	return userID, ok
}

func (store *Store) SaveUserID(writer http.ResponseWriter, request *http.Request, userID int64) error {
	session, _ := store.cookies.Get(request, cookieName)
	session.Values[userIDKey] = userID

	return session.Save(request, writer)
}

func (store *Store) Clear(writer http.ResponseWriter, request *http.Request) error {
	session, _ := store.cookies.Get(request, cookieName)

	for key := range session.Values {
		delete(session.Values, key)
	}

	return session.Save(request, writer)
}

// RequireUser puts the session user into the request context, or redirects
// to the login page when there is no user.
func (store *Store) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		userID, ok := store.LoadUserID(request)

		if !ok {
			http.Redirect(writer, request, "/login", http.StatusFound)

			return
		}

		next.ServeHTTP(writer, request.WithContext(WithUserID(request.Context(), userID)))
	})
}

// WithUserID returns a context carrying the authenticated user.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated user carried by the context.
func UserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(contextKey{}).(int64)

	return userID, ok
}
