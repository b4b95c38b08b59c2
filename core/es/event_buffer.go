package es

import (
	"fmt"
	"iter"

	"github.com/codewandler/evbuf-go/core/ds"
)

// EventBuffer is the event history owned by one aggregate.
//
// Offset is the stream version preceding the first buffered event (zero for
// a full history). Events in [0, CommittedVersion-Offset) are committed, the
// rest are uncommitted. EventBuffer is a value: every mutating method returns
// a new buffer and leaves the receiver untouched.
type EventBuffer[ID comparable] struct {
	aggregateID ID
	offset      Version
	committed   Version
	events      ds.AppendOnly
}

// EmptyEventBuffer returns a buffer for id without any events.
func EmptyEventBuffer[ID comparable](id ID) EventBuffer[ID] {
	return EventBuffer[ID]{aggregateID: id}
}

// BufferFromStorage builds a committed buffer from stored records. offset is
// the version preceding the first record. convert maps a record to its event;
// records it maps to nil are kept as UnknownEvent so that versions line up.
func BufferFromStorage[ID comparable, S any](id ID, offset Version, stored []S, convert func(S) any) EventBuffer[ID] {
	events := make([]any, 0, len(stored))
	for _, s := range stored {
		e := convert(s)
		if e == nil {
			e = UnknownEvent{}
		}
		events = append(events, e)
	}
	b := EventBuffer[ID]{aggregateID: id, offset: offset}
	b.events = b.events.Add(events)
	b.committed = b.Version()
	return b
}

func (b EventBuffer[ID]) AggregateID() ID           { return b.aggregateID }
func (b EventBuffer[ID]) Offset() Version           { return b.offset }
func (b EventBuffer[ID]) CommittedVersion() Version { return b.committed }
func (b EventBuffer[ID]) Version() Version          { return b.offset + Version(b.events.Count()) }
func (b EventBuffer[ID]) Count() int                { return b.events.Count() }
func (b EventBuffer[ID]) IsEmpty() bool             { return b.events.IsEmpty() }
func (b EventBuffer[ID]) HasUncommitted() bool      { return b.Version() != b.committed }

// Events iterates over all buffered events.
func (b EventBuffer[ID]) Events() iter.Seq[any] { return b.events.All() }

// Committed iterates over the events already persisted.
func (b EventBuffer[ID]) Committed() iter.Seq[any] {
	return b.events.Take(int(b.committed - b.offset))
}

// Uncommitted iterates over the events not yet persisted.
func (b EventBuffer[ID]) Uncommitted() iter.Seq[any] {
	return b.events.Skip(int(b.committed - b.offset))
}

// Add returns a buffer with event appended. Slices and sequences are
// flattened, nil events are ignored.
func (b EventBuffer[ID]) Add(event any) EventBuffer[ID] {
	b.events = b.events.Add(event)
	return b
}

// MarkAllAsCommitted returns a buffer whose events are all committed. The
// events stay in the buffer.
func (b EventBuffer[ID]) MarkAllAsCommitted() EventBuffer[ID] {
	b.committed = b.Version()
	return b
}

func (b EventBuffer[ID]) String() string {
	return fmt.Sprintf(
		"EventBuffer(id=%v offset=%d committed=%d version=%d)",
		b.aggregateID, b.offset, b.committed, b.Version(),
	)
}

// SelectUncommitted maps every uncommitted event to a stored record. Records
// are numbered CommittedVersion+1, CommittedVersion+2 and so on; stores must
// persist them under exactly these versions.
func SelectUncommitted[ID comparable, S any](b EventBuffer[ID], convert func(id ID, v Version, event any) S) iter.Seq[S] {
	return func(yield func(S) bool) {
		v := b.committed
		for e := range b.Uncommitted() {
			v++
			if !yield(convert(b.aggregateID, v, e)) {
				return
			}
		}
	}
}
