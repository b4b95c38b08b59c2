package es

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// Envelope is the stored form of one event.
type Envelope struct {
	// ID uniquely identifies the stored event.
	ID string `json:"id"`
	// Seq is the store-wide sequence assigned on append.
	Seq uint64 `json:"seq"`
	// Version is the position in the aggregate stream, starting at 1.
	Version       Version `json:"version"`
	AggregateType string  `json:"aggregate"`
	AggregateID   string  `json:"aggregate_id"`
	// Type is the registered event name used to decode Data.
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
	// Checksum is the hex encoded BLAKE2b-256 digest of Data. Envelopes
	// written without one are not verified.
	Checksum string `json:"checksum,omitempty"`
}

// Validate checks that every required field is set.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("envelope id is empty")
	case e.Version == 0:
		return errors.New("envelope version is zero")
	case e.OccurredAt.IsZero():
		return errors.New("envelope occurred at is zero")
	case e.AggregateID == "":
		return errors.New("envelope aggregate id is empty")
	case e.AggregateType == "":
		return errors.New("envelope aggregate type is empty")
	case e.Type == "":
		return errors.New("envelope type is empty")
	}
	return nil
}

// Seal returns e with its checksum set.
func (e Envelope) Seal() Envelope {
	e.Checksum = checksum(e.Data)
	return e
}

// Verify reports an ErrChecksumMismatch if Data does not match Checksum.
func (e Envelope) Verify() error {
	if e.Checksum == "" {
		return nil
	}
	if got := checksum(e.Data); got != e.Checksum {
		return fmt.Errorf("%w: envelope %s version %d", ErrChecksumMismatch, e.ID, e.Version)
	}
	return nil
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
