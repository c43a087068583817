package slots

import (
	"context"
	"fmt"
)

type CatalogStore interface {
	FindByResourceAndTime(ctx context.Context, amenityID, startTime string) (Entry, error)
}

// Resolution is what the remote booking call needs for one request.
type Resolution struct {
	AmenityID string
	SlotID    string
}

// Resolver maps a user-facing court number and local time to the remote
// slot identifier. It only reads; an empty catalog and a missing slot both
// surface as ErrSlotNotFound.
type Resolver struct {
	Catalog CatalogStore
	Courts  map[int]string

	// DefaultSlotID is used for whole-day bookings that carry no time.
	DefaultSlotID string
}

func (r Resolver) Resolve(ctx context.Context, courtNumber int, at *string) (Resolution, error) {
	amenityID, ok := r.Courts[courtNumber]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %d", ErrUnknownCourt, courtNumber)
	}
	if at == nil {
		if r.DefaultSlotID == "" {
			return Resolution{}, fmt.Errorf("%w: no time given for court %d", ErrSlotNotFound, courtNumber)
		}
		return Resolution{AmenityID: amenityID, SlotID: r.DefaultSlotID}, nil
	}

	e, err := r.Catalog.FindByResourceAndTime(ctx, amenityID, NormalizeTime(*at))
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{AmenityID: amenityID, SlotID: e.SlotID}, nil
}
