package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_SequentialPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		mu  sync.Mutex
		seq []int
		wg  sync.WaitGroup
	)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("key1", func() error {
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
		// keep submission order
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, seq)
}

func TestScheduler_NoOverlapPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		running atomic.Int32
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Do("key", func() error {
				if running.Add(1) != 1 {
					return errors.New("overlapping tasks")
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			}))
		}()
	}
	wg.Wait()
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		running    atomic.Int32
		maxRunning atomic.Int32
		wg         sync.WaitGroup
	)
	for i := range 5 {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(key, func() error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, maxRunning.Load(), int32(2))
}

func TestScheduler_ErrorPropagation(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("task error")
	require.ErrorIs(t, s.Do("key", func() error { return boom }), boom)
}

func TestScheduler_IdleKeysAreReleased(t *testing.T) {
	s := New[int]()
	defer s.Close()

	for i := range 50 {
		require.NoError(t, s.Do(i, func() error { return nil }))
	}
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
}

func TestScheduler_DoContext_Cancelled(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := s.DoContext(ctx, "key", func() error {
		t.Error("task should not execute")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.Len())
}

func TestScheduler_DoContext_Timeout(t *testing.T) {
	s := New[string]()
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Do("key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err := s.DoContext(ctx, "key", func() error {
		ran.Store(true)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	// the queued task still runs
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
}

func TestScheduler_WithdrawnTaskReleasesKey(t *testing.T) {
	s := New[string](WithBufferSize(1))
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do("key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// fill the queue
	queued := make(chan error, 1)
	go func() { queued <- s.Do("key", func() error { return nil }) }()
	time.Sleep(10 * time.Millisecond)

	// this one cannot even be queued
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "key", func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-queued)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
}

func TestScheduler_Close(t *testing.T) {
	t.Run("rejects new tasks", func(t *testing.T) {
		s := New[string]()
		s.Close()
		s.Close()
		require.ErrorIs(t, s.Do("key", func() error { return nil }), ErrSchedulerClosed)
	})

	t.Run("drains queued tasks", func(t *testing.T) {
		s := New[string](WithBufferSize(10))

		var (
			executed atomic.Int32
			wg       sync.WaitGroup
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Do("key", func() error {
					time.Sleep(10 * time.Millisecond)
					executed.Add(1)
					return nil
				})
			}()
		}
		time.Sleep(20 * time.Millisecond)

		s.Close()
		wg.Wait()
		require.EqualValues(t, 5, executed.Load())
	})

	t.Run("concurrent with submissions", func(t *testing.T) {
		s := New[string]()
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Do("key", func() error { return nil })
				if err != nil {
					require.ErrorIs(t, err, ErrSchedulerClosed)
				}
			}()
		}
		go func() {
			time.Sleep(time.Millisecond)
			s.Close()
		}()
		wg.Wait()
	})
}
