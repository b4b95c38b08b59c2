package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSingleflight_Deduplicates(t *testing.T) {
	var (
		s     = New[int]()
		calls atomic.Int32
		start = make(chan struct{})
		wg    sync.WaitGroup
	)

	results := make([]int, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := s.Do("key", func() (int, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}
	close(start)
	wg.Wait()

	require.LessOrEqual(t, calls.Load(), int32(2))
	for _, v := range results {
		require.Equal(t, 42, v)
	}
}

func TestSingleflight_Error(t *testing.T) {
	s := New[*int]()
	v, err := s.Do("key", func() (*int, error) { return nil, errors.New("boom") })
	require.EqualError(t, err, "boom")
	require.Nil(t, v)
}
