package command

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNilCommand               = errors.New("command is nil")
	ErrUnresolvedHandler        = errors.New("no handler for command")
	ErrCancellationNotSupported = errors.New("handler does not support cancellation")
	ErrHandlerPanic             = errors.New("command handler panicked")
)

// UnresolvedHandlerError is returned by Processor.Send when the resolver has
// no binding for the command's type.
type UnresolvedHandlerError struct {
	CommandType reflect.Type
}

func (e *UnresolvedHandlerError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvedHandler, e.CommandType)
}

func (e *UnresolvedHandlerError) Is(target error) bool { return target == ErrUnresolvedHandler }

// PanicError carries the value recovered from a panicking handler.
type PanicError struct {
	Command   string
	Recovered any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrHandlerPanic, e.Command, e.Recovered)
}

func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }
