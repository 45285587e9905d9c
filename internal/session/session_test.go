package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCookies(request *http.Request, recorder *httptest.ResponseRecorder) *http.Request {
	for _, cookie := range recorder.Result().Cookies() {
		request.AddCookie(cookie)
	}

	return request
}

func TestSaveLoadAndClear(t *testing.T) {
	store := NewStore("test-secret")

	recorder := httptest.NewRecorder()
	require.NoError(t, store.SaveUserID(recorder, httptest.NewRequest(http.MethodGet, "/", nil), 42))

	request := withCookies(httptest.NewRequest(http.MethodGet, "/", nil), recorder)
	userID, ok := store.LoadUserID(request)
	assert.True(t, ok)
	assert.Equal(t, int64(42), userID)

	cleared := httptest.NewRecorder()
	require.NoError(t, store.Clear(cleared, request))

	_, ok = store.LoadUserID(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), cleared))
	assert.False(t, ok)
}

func TestLoadRejectsForeignCookie(t *testing.T) {
	recorder := httptest.NewRecorder()
	require.NoError(t, NewStore("one").SaveUserID(recorder, httptest.NewRequest(http.MethodGet, "/", nil), 7))

	_, ok := NewStore("two").LoadUserID(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), recorder))

	assert.False(t, ok)
}

func TestRequireUser(t *testing.T) {
	store := NewStore("test-secret")
	var seen int64

	handler := store.RequireUser(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		seen, _ = UserID(request.Context())
	}))

	anonymous := httptest.NewRecorder()
	handler.ServeHTTP(anonymous, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, anonymous.Code)
	assert.Equal(t, "/login", anonymous.Header().Get("Location"))

	login := httptest.NewRecorder()
	require.NoError(t, store.SaveUserID(login, httptest.NewRequest(http.MethodGet, "/", nil), 9))

	authenticated := httptest.NewRecorder()
	handler.ServeHTTP(authenticated, withCookies(httptest.NewRequest(http.MethodGet, "/", nil), login))
	assert.Equal(t, http.StatusOK, authenticated.Code)
	assert.Equal(t, int64(9), seen)
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserID(context.Background())
	assert.False(t, ok)

	userID, ok := UserID(WithUserID(context.Background(), 3))
	assert.True(t, ok)
	assert.Equal(t, int64(3), userID)
}
