package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex(5 * time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "professional:a", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, m.slots, "idle keys are released")
}

func TestKeyedMutexDifferentKeysRunInParallel(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "professional:a", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan error, 1)
	go func() {
		done <- m.WithLock(context.Background(), "professional:b", func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lock on another key blocked")
	}
	close(release)
}

func TestKeyedMutexTimesOut(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	holding := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = m.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	called := false
	err := m.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
}

func TestKeyedMutexReturnsCallerCancellation(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	holding := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = m.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestKeyedMutexPropagatesFnError(t *testing.T) {
	boom := errors.New("boom")
	err := NewKeyedMutex(time.Second).WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestProfessionalKey(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, "professional:00000000-0000-0000-0000-000000000001", ProfessionalKey(id))
}
