package court

import (
	"errors"
	"fmt"
)

// OutcomeKind discriminates the three possible results of a booking call.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeAlreadyBooked
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyBooked:
		return "already_booked"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

type Outcome struct {
	Kind    OutcomeKind
	Message string
}

func Success(msg string) Outcome       { return Outcome{Kind: OutcomeSuccess, Message: msg} }
func AlreadyBooked(msg string) Outcome { return Outcome{Kind: OutcomeAlreadyBooked, Message: msg} }
func Failure(msg string) Outcome       { return Outcome{Kind: OutcomeError, Message: msg} }

var ErrNoSession = errors.New("no court session; authenticate first")

// RemoteError is a failed call to the court system: a transport error or a
// non-success HTTP status.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("court %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("court %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
