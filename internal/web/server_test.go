package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dageev-uae/tenis-schedule/internal/auth"
	"github.com/dageev-uae/tenis-schedule/internal/bookings"
)

var dubai = time.FixedZone("Asia/Dubai", 4*60*60)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type memoryBookings struct {
	mu    sync.Mutex
	items []bookings.Booking
}

func (m *memoryBookings) Create(_ context.Context, b bookings.Booking) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = int64(len(m.items) + 1)
	m.items = append(m.items, b)
	return b.ID, nil
}

func (m *memoryBookings) ListByUser(_ context.Context, userID int64) ([]bookings.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []bookings.Booking
	for _, b := range m.items {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryBookings) Delete(_ context.Context, id, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.items {
		if b.ID == id && b.UserID == userID && b.Status == bookings.StatusPending {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type staticUsers map[string]int64

func (u staticUsers) Authenticate(_ context.Context, username, password string) (int64, error) {
	if id, ok := u[username]; ok && password == "secret" {
		return id, nil
	}
	return 0, auth.ErrInvalidCredentials
}

type countingKicker struct{ kicks int }

func (k *countingKicker) Kick() { k.kicks++ }

type testEnv struct {
	handler  http.Handler
	bookings *memoryBookings
	kicker   *countingKicker
	server   *Server
}

func newEnv() *testEnv {
	env := &testEnv{bookings: &memoryBookings{}, kicker: &countingKicker{}}
	env.server = &Server{
		Sessions:  auth.NewSessions(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32)),
		Users:     staticUsers{"jane": 7, "bob": 8},
		Bookings:  env.bookings,
		Scheduler: env.kicker,
		Courts:    map[int]string{3: "amenity-3", 4: "amenity-4"},
		Location:  dubai,
		Clock:     fixedClock{now: time.Date(2025, 10, 20, 10, 0, 0, 0, dubai)},
	}
	env.handler = env.server.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/login", `{"username":"`+username+`","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := newEnv().do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	t.Parallel()

	rec := newEnv().do(t, http.MethodPost, "/login", `{"username":"jane","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginIsRateLimited(t *testing.T) {
	t.Parallel()

	env := newEnv()
	env.server.limiter = newIPLimiter(rate.Every(time.Hour), 2)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/login", `{"username":"jane","password":"nope"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/login", `{"username":"jane","password":"secret"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestBookingsRequireSession(t *testing.T) {
	t.Parallel()

	rec := newEnv().do(t, http.MethodGet, "/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateUrgentBookingKicksScheduler(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cookie := env.login(t, "jane")

	rec := env.do(t, http.MethodPost, "/bookings", `{"date":"2025-10-21","time":"6:0","court":3}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got bookingView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "2025-10-21", got.Date)
	require.NotNil(t, got.Time)
	assert.Equal(t, "06:00", *got.Time)
	assert.Equal(t, 3, got.Court)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, 1, env.kicker.kicks)

	require.Len(t, env.bookings.items, 1)
	assert.Equal(t, int64(7), env.bookings.items[0].UserID)
}

func TestCreateLaterBookingDoesNotKick(t *testing.T) {
	t.Parallel()

	env := newEnv()
	cookie := env.login(t, "jane")

	rec := env.do(t, http.MethodPost, "/bookings", `{"date":"2025-10-25","time":"07:00","court":4}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Zero(t, env.kicker.kicks)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{name: "bad json", body: `{`},
		{name: "bad date", body: `{"date":"21.10.2025","time":"06:00","court":3}`},
		{name: "bad time", body: `{"date":"2025-10-21","time":"26:00","court":3}`},
		{name: "unknown court", body: `{"date":"2025-10-21","time":"06:00","court":9}`},
		{name: "past date", body: `{"date":"2025-10-19","time":"06:00","court":3}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv()
			cookie := env.login(t, "jane")
			rec := env.do(t, http.MethodPost, "/bookings", tc.body, cookie)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, env.bookings.items)
		})
	}
}

func TestListAndCancelOwnBookings(t *testing.T) {
	t.Parallel()

	env := newEnv()
	jane := env.login(t, "jane")
	bob := env.login(t, "bob")

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/bookings", `{"date":"2025-10-25","time":"06:00","court":3}`, jane).Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/bookings", `{"date":"2025-10-26","time":"07:00","court":4}`, bob).Code)

	rec := env.do(t, http.MethodGet, "/bookings", "", jane)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []bookingView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "2025-10-25", list[0].Date)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/bookings/2", "", jane).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/bookings/abc", "", jane).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/bookings/1", "", jane).Code)
	assert.Len(t, env.bookings.items, 1)
}

func TestLogoutClearsCookie(t *testing.T) {
	t.Parallel()

	rec := newEnv().do(t, http.MethodPost, "/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Negative(t, rec.Result().Cookies()[0].MaxAge)
}
