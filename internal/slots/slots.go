package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dageev-uae/tenis-schedule/internal/db"
)

var (
	ErrSlotNotFound = errors.New("slot not found")
	ErrUnknownCourt = errors.New("unknown court number")
)

// Entry is one bookable window of a court as issued by the remote system.
// SlotID is opaque and immutable once stored.
type Entry struct {
	SlotID    string
	AmenityID string
	StartTime string
	EndTime   string
	FetchedAt time.Time
}

// NormalizeTime pads a clock time to HH:MM and drops seconds:
// "6:0", "06:00" and "6:00:00" all become "06:00".
func NormalizeTime(t string) string {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) < 2 {
		return t
	}
	return pad2(parts[0]) + ":" + pad2(parts[1])
}

func pad2(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		return s
	}
	return strings.Repeat("0", 2-len(s)) + s
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) FindByResourceAndTime(ctx context.Context, amenityID, startTime string) (Entry, error) {
	var e Entry
	err := r.db.QueryRow(ctx, `
SELECT slot_id,amenity_id,start_time,end_time,fetched_at
FROM amenity_slots
WHERE amenity_id=$1 AND start_time=$2
ORDER BY fetched_at ASC
LIMIT 1`, amenityID, NormalizeTime(startTime)).
		Scan(&e.SlotID, &e.AmenityID, &e.StartTime, &e.EndTime, &e.FetchedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return Entry{}, ErrSlotNotFound
		}
		return Entry{}, db.WrapNotFound(err)
	}
	return e, nil
}

// InsertIfAbsent stores e unless its SlotID is already known; existing rows
// are never overwritten. It reports whether a new row was written.
func (r *Repo) InsertIfAbsent(ctx context.Context, e Entry) (bool, error) {
	n, err := r.db.ExecAffected(ctx, `
INSERT INTO amenity_slots(slot_id,amenity_id,start_time,end_time)
VALUES ($1,$2,$3,$4)
ON CONFLICT (slot_id) DO NOTHING`,
		e.SlotID, e.AmenityID, NormalizeTime(e.StartTime), NormalizeTime(e.EndTime))
	if err != nil {
		return false, fmt.Errorf("insert slot %s: %w", e.SlotID, err)
	}
	return n == 1, nil
}

func (r *Repo) ListByResource(ctx context.Context, amenityID string) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
SELECT slot_id,amenity_id,start_time,end_time,fetched_at
FROM amenity_slots
WHERE amenity_id=$1
ORDER BY start_time ASC`, amenityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SlotID, &e.AmenityID, &e.StartTime, &e.EndTime, &e.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
