package es

import (
	"errors"
	"fmt"
)

var ErrIncompleteHistory = errors.New("incomplete history")

// HistoryError reports a stored stream that cannot be replayed as is.
type HistoryError struct {
	AggregateID string
	Version     Version
	Reason      string
	Err         error
}

func (e *HistoryError) Error() string {
	msg := fmt.Sprintf("%s: aggregate %s at version %d: %s", ErrIncompleteHistory, e.AggregateID, e.Version, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HistoryError) Is(target error) bool { return target == ErrIncompleteHistory }
func (e *HistoryError) Unwrap() error        { return e.Err }

// CheckHistory verifies that envs form the stream of aggID starting at
// version from: consecutive versions, a single aggregate id and intact
// payloads. It runs before any event is decoded or applied.
func CheckHistory(aggID string, from Version, envs []Envelope) error {
	want := from
	for _, env := range envs {
		if env.AggregateID != aggID {
			return &HistoryError{
				AggregateID: aggID,
				Version:     env.Version,
				Reason:      fmt.Sprintf("event %s belongs to aggregate %s", env.ID, env.AggregateID),
			}
		}
		if env.Version != want {
			return &HistoryError{
				AggregateID: aggID,
				Version:     want,
				Reason:      fmt.Sprintf("expected version %d, got %d", want, env.Version),
			}
		}
		if err := env.Verify(); err != nil {
			return &HistoryError{AggregateID: aggID, Version: env.Version, Reason: "corrupt payload", Err: err}
		}
		want++
	}
	return nil
}
