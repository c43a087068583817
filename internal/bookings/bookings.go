package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dageev-uae/tenis-schedule/internal/db"
	"github.com/dageev-uae/tenis-schedule/internal/slots"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a booking in this status can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrNotFound   = errors.New("booking not found")
	ErrNotPending = errors.New("booking is not pending")
)

// Booking is a user's request to reserve one court slot on a given date.
// TargetTime is nil for whole-day bookings.
type Booking struct {
	ID           int64
	UserID       int64
	TargetDate   time.Time
	TargetTime   *string
	CourtNumber  int
	Status       Status
	StatusReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Booking) DateLabel() string {
	return b.TargetDate.Format("2006-01-02")
}

func (b Booking) TimeLabel() string {
	if b.TargetTime == nil {
		return "whole day"
	}
	return *b.TargetTime
}

func (b Booking) Validate() error {
	if b.UserID == 0 {
		return fmt.Errorf("user_id required")
	}
	if b.TargetDate.IsZero() {
		return fmt.Errorf("target_date required")
	}
	if b.CourtNumber < 1 {
		return fmt.Errorf("court_number required")
	}
	if b.TargetTime != nil {
		if _, err := time.Parse("15:04", *b.TargetTime); err != nil {
			return fmt.Errorf("target_time must be HH:MM")
		}
	}
	return nil
}

// DefaultCourt is used when a request names no court.
const DefaultCourt = 4

// Parse builds a pending booking from user input. date is YYYY-MM-DD; at is
// an optional clock time in any form slots.NormalizeTime accepts; court 0
// selects DefaultCourt.
func Parse(userID int64, date, at string, court int) (Booking, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return Booking{}, fmt.Errorf("target_date must be YYYY-MM-DD")
	}
	if court == 0 {
		court = DefaultCourt
	}
	b := Booking{UserID: userID, TargetDate: d, CourtNumber: court, Status: StatusPending}
	if at = strings.TrimSpace(at); at != "" {
		norm := slots.NormalizeTime(at)
		b.TargetTime = &norm
	}
	return b, b.Validate()
}

const selectColumns = `id,user_id,target_date,target_time,court_number,status,status_reason,created_at,updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, b Booking) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO bookings(user_id,target_date,target_time,court_number,status)
VALUES ($1,$2,$3,$4,'pending')
RETURNING id`,
		b.UserID, b.TargetDate, b.TargetTime, b.CourtNumber,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

// FindPending returns every pending booking in creation order.
func (r *Repo) FindPending(ctx context.Context) ([]Booking, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM bookings WHERE status='pending' ORDER BY id ASC`)
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]Booking, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM bookings WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) FindByID(ctx context.Context, id int64) (Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM bookings WHERE id=$1`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, db.WrapNotFound(err)
	}
	return b, nil
}

// UpdateStatus moves a pending booking into a terminal status. Bookings that
// already left pending are never touched again and yield ErrNotPending.
func (r *Repo) UpdateStatus(ctx context.Context, id int64, status Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid target status %q", status)
	}
	n, err := r.db.ExecAffected(ctx, `
UPDATE bookings SET status=$2, status_reason=$3, updated_at=now()
WHERE id=$1 AND status='pending'`, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrNotPending
}

// Delete cancels a pending booking owned by userID.
func (r *Repo) Delete(ctx context.Context, id, userID int64) (bool, error) {
	n, err := r.db.ExecAffected(ctx, `DELETE FROM bookings WHERE id=$1 AND user_id=$2 AND status='pending'`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete booking %d: %w", id, err)
	}
	return n == 1, nil
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Booking, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row db.Row) (Booking, error) {
	var b Booking
	var status string
	if err := row.Scan(&b.ID, &b.UserID, &b.TargetDate, &b.TargetTime, &b.CourtNumber, &status, &b.StatusReason, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Booking{}, err
	}
	b.Status = Status(status)
	return b, nil
}
