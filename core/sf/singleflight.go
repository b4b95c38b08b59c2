package sf

import "golang.org/x/sync/singleflight"

// Singleflight deduplicates concurrent function calls with the same key.
type Singleflight[T any] struct {
	group singleflight.Group
}

// Do executes fn for key unless a call for key is already in flight, in
// which case it waits for that call and returns its result. A panic in fn is
// propagated to every waiting caller.
func (s *Singleflight[T]) Do(key string, fn func() (T, error)) (T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// New creates a Singleflight for results of type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}
