// Package validation defines the result of validating a candidate state:
// success with a subject, or failure with ordered messages.
package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalid is matched by every *Error.
var ErrInvalid = errors.New("validation failed")

// Severity classifies a Message.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("severity(%d)", s)
}

// Message is one validation finding. Field is optional.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
	Field    string   `json:"field,omitempty"`
}

func InfoMessage(text string) Message    { return Message{Severity: SeverityInfo, Text: text} }
func WarningMessage(text string) Message { return Message{Severity: SeverityWarning, Text: text} }
func ErrorMessage(text string) Message   { return Message{Severity: SeverityError, Text: text} }

// WithField returns a copy of m associated with field.
func (m Message) WithField(field string) Message {
	m.Field = field
	return m
}

func (m Message) String() string {
	if m.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", m.Severity, m.Text, m.Field)
	}
	return fmt.Sprintf("%s: %s", m.Severity, m.Text)
}

// Result is the outcome of a validation. It is valid unless it carries at
// least one Error message; a valid result may still carry infos and warnings.
type Result[T any] struct {
	value    T
	messages []Message
}

// OK returns a valid result for value.
func OK[T any](value T, messages ...Message) Result[T] {
	r := Result[T]{value: value, messages: slices.Clone(messages)}
	if !r.IsValid() {
		var zero T
		r.value = zero
	}
	return r
}

// Fail returns an invalid result. Messages without error severity are kept
// as given; if none of them is an error the result still counts as invalid.
func Fail[T any](messages ...Message) Result[T] {
	r := Result[T]{messages: slices.Clone(messages)}
	if r.IsValid() {
		r.messages = append(r.messages, ErrorMessage("invalid"))
	}
	return r
}

// FailWith is Fail with a single error message.
func FailWith[T any](text string) Result[T] { return Fail[T](ErrorMessage(text)) }

// IsValid reports whether r carries no Error messages.
func (r Result[T]) IsValid() bool {
	return !slices.ContainsFunc(r.messages, func(m Message) bool { return m.Severity == SeverityError })
}

// Value returns the subject; it is the zero value for invalid results.
func (r Result[T]) Value() T { return r.value }

// Get returns the subject and whether r is valid.
func (r Result[T]) Get() (T, bool) { return r.value, r.IsValid() }

// Messages returns a copy of all messages in order.
func (r Result[T]) Messages() []Message { return slices.Clone(r.messages) }

// Errors returns the Error messages in order.
func (r Result[T]) Errors() []Message {
	var out []Message
	for _, m := range r.messages {
		if m.Severity == SeverityError {
			out = append(out, m)
		}
	}
	return out
}

// WithMessages returns r with messages appended. Appending an Error message
// turns a valid result invalid.
func (r Result[T]) WithMessages(messages ...Message) Result[T] {
	out := Result[T]{value: r.value, messages: append(slices.Clone(r.messages), messages...)}
	if !out.IsValid() {
		var zero T
		out.value = zero
	}
	return out
}

// Err returns nil for valid results and an *Error otherwise.
func (r Result[T]) Err() error {
	if r.IsValid() {
		return nil
	}
	return &Error{Messages: r.Messages()}
}

// And runs next on the subject if r is valid; messages of both results are
// kept in order. An invalid r is returned unchanged.
func (r Result[T]) And(next func(T) Result[T]) Result[T] {
	if !r.IsValid() {
		return r
	}
	n := next(r.value)
	return Result[T]{value: n.value, messages: append(slices.Clone(r.messages), n.messages...)}
}

// Then binds r to a function producing a result of another type.
func Then[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.IsValid() {
		return Result[U]{messages: r.Messages()}
	}
	n := fn(r.value)
	return Result[U]{value: n.value, messages: append(r.Messages(), n.messages...)}
}

// Error is the error form of an invalid Result.
type Error struct {
	Messages []Message
}

func (e *Error) Error() string {
	texts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		if m.Severity == SeverityError {
			texts = append(texts, m.Text)
		}
	}
	return ErrInvalid.Error() + ": " + strings.Join(texts, "; ")
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

// Validator validates a candidate state.
type Validator[T any] interface {
	Validate(candidate T) Result[T]
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc[T any] func(candidate T) Result[T]

func (f ValidatorFunc[T]) Validate(candidate T) Result[T] { return f(candidate) }

// Combine runs every validator and merges their messages in order.
func Combine[T any](validators ...Validator[T]) Validator[T] {
	return ValidatorFunc[T](func(candidate T) Result[T] {
		r := OK(candidate)
		for _, v := range validators {
			r = r.WithMessages(v.Validate(candidate).messages...)
		}
		if !r.IsValid() {
			return Result[T]{messages: r.messages}
		}
		return Result[T]{value: candidate, messages: r.messages}
	})
}

// None accepts every candidate.
func None[T any]() Validator[T] {
	return ValidatorFunc[T](func(candidate T) Result[T] { return OK(candidate) })
}
