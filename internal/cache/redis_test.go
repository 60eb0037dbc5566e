package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "lock:", zaptest.NewLogger(t)), mr
}

func TestLocker_SerialisesHolders(t *testing.T) {
	l, _ := newTestLocker(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "webhook:TRX-1", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_TimesOutWhileHeld(t *testing.T) {
	l, mr := newTestLocker(t)

	release, err := l.Acquire(context.Background(), "webhook:TRX-2", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:webhook:TRX-2"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "webhook:TRX-2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("lock:webhook:TRX-2"))
}

func TestLocker_ReleaseKeepsSomeoneElsesLock(t *testing.T) {
	l, mr := newTestLocker(t)

	release, err := l.Acquire(context.Background(), "webhook:TRX-3", time.Second)
	require.NoError(t, err)

	// The lock expires and another holder takes it.
	mr.FastForward(2 * time.Second)
	other, err := l.Acquire(context.Background(), "webhook:TRX-3", 5*time.Second)
	require.NoError(t, err)

	release()
	assert.True(t, mr.Exists("lock:webhook:TRX-3"))

	other()
	assert.False(t, mr.Exists("lock:webhook:TRX-3"))
}
