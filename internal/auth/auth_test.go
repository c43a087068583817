package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}

func newSessions() *Sessions {
	return NewSessions(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32))
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newSessions()
	rec := httptest.NewRecorder()
	require.NoError(t, s.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 42))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.AddCookie(cookies[0])
	sess, ok := s.GetSession(req)
	require.True(t, ok)
	assert.Equal(t, int64(42), sess.UserID)
}

func TestSessionRejectsForeignCookie(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, newSessions().SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), 42))

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	_, ok := newSessions().GetSession(req)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	s := newSessions()
	var seen int64
	h := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, seen)

	login := httptest.NewRecorder()
	require.NoError(t, s.SetSession(login, httptest.NewRequest(http.MethodPost, "/login", nil), 7))
	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.AddCookie(login.Result().Cookies()[0])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), seen)
}

func TestClearSession(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newSessions().ClearSession(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}
