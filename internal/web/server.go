package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dageev-uae/tenis-schedule/internal/auth"
	"github.com/dageev-uae/tenis-schedule/internal/bookings"
	"github.com/dageev-uae/tenis-schedule/internal/clock"
)

type BookingStore interface {
	Create(ctx context.Context, b bookings.Booking) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]bookings.Booking, error)
	Delete(ctx context.Context, id, userID int64) (bool, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
}

// Kicker triggers an early scheduler pass.
type Kicker interface {
	Kick()
}

type Server struct {
	Sessions  *auth.Sessions
	Users     Authenticator
	Bookings  BookingStore
	Scheduler Kicker

	// Courts lists the accepted court numbers; empty accepts any.
	Courts     map[int]string
	Location   *time.Location
	Clock      clock.Clock
	UrgentDays int
	Log        *zap.Logger

	limiterOnce sync.Once
	limiter     *ipLimiter
}

type bookingView struct {
	ID           int64     `json:"id"`
	Date         string    `json:"date"`
	Time         *string   `json:"time,omitempty"`
	Court        int       `json:"court"`
	Status       string    `json:"status"`
	StatusReason *string   `json:"status_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toView(b bookings.Booking) bookingView {
	return bookingView{
		ID:           b.ID,
		Date:         b.DateLabel(),
		Time:         b.TargetTime,
		Court:        b.CourtNumber,
		Status:       string(b.Status),
		StatusReason: b.StatusReason,
		CreatedAt:    b.CreatedAt,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /bookings", s.Sessions.RequireAuth(http.HandlerFunc(s.handleList)))
	mux.Handle("POST /bookings", s.Sessions.RequireAuth(http.HandlerFunc(s.handleCreate)))
	mux.Handle("DELETE /bookings/{id}", s.Sessions.RequireAuth(http.HandlerFunc(s.handleCancel)))

	return mux
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiters().allow(ip) {
		s.logger().Warn("login rate limit exceeded", zap.String("ip", ip))
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username/password")
			return
		}
		s.logger().Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := s.Sessions.SetSession(w, r, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": id})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Sessions.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	bs, err := s.Bookings.ListByUser(r.Context(), uid)
	if err != nil {
		s.logger().Error("list bookings failed", zap.Int64("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load bookings")
		return
	}
	out := make([]bookingView, 0, len(bs))
	for _, b := range bs {
		out = append(out, toView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

type createRequest struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Court int    `json:"court"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := bookings.Parse(uid, req.Date, req.Time, req.Court)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(s.Courts) > 0 {
		if _, ok := s.Courts[b.CourtNumber]; !ok {
			writeError(w, http.StatusBadRequest, "unknown court number")
			return
		}
	}

	now := s.clk().Now().In(s.loc())
	days := clock.DaysBetween(now, b.TargetDate)
	if days < 0 {
		writeError(w, http.StatusBadRequest, "date already passed")
		return
	}

	id, err := s.Bookings.Create(r.Context(), b)
	if err != nil {
		s.logger().Error("create booking failed", zap.Int64("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save booking")
		return
	}
	b.ID = id
	b.CreatedAt = now
	s.logger().Info("booking created", zap.Int64("booking_id", id), zap.Int64("user_id", uid), zap.String("date", b.DateLabel()), zap.String("time", b.TimeLabel()), zap.Int("court", b.CourtNumber))

	if days <= s.urgentDays() && s.Scheduler != nil {
		s.Scheduler.Kick()
	}
	writeJSON(w, http.StatusCreated, toView(b))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	ok, err := s.Bookings.Delete(r.Context(), id, uid)
	if err != nil {
		s.logger().Error("cancel booking failed", zap.Int64("booking_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not cancel booking")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no pending booking with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) clk() clock.Clock {
	if s.Clock == nil {
		return clock.System{}
	}
	return s.Clock
}

func (s *Server) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Server) urgentDays() int {
	if s.UrgentDays <= 0 {
		return 2
	}
	return s.UrgentDays
}

func (s *Server) limiters() *ipLimiter {
	s.limiterOnce.Do(func() {
		if s.limiter == nil {
			s.limiter = newIPLimiter(rate.Every(time.Minute/10), 5)
		}
	})
	return s.limiter
}

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

func newIPLimiter(every rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{limiters: map[string]*rate.Limiter{}, every: every, burst: burst}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves h on addr until ctx is done.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
