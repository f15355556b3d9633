package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/phasegate/internal/types"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "evaluate.lock")

	l, err := Acquire(context.Background(), path, Options{Command: "evaluate P1"})
	require.NoError(t, err)

	owner, err := ReadOwner(path)
	require.NoError(t, err)
	assert.Equal(t, l.Owner().ID, owner.ID)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "evaluate P1", owner.Command)

	require.NoError(t, l.Release())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, l.Release(), "second release is a no-op")
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	held, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	defer held.Release() //nolint:errcheck

	start := time.Now()
	_, err = Acquire(context.Background(), path, Options{Timeout: 200 * time.Millisecond, PollInterval: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	assert.Contains(t, err.Error(), "another evaluation may be in progress")

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.NotNil(t, te.Owner)
	assert.Equal(t, held.Owner().ID, te.Owner.ID)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "a timed-out acquirer never removes the lock")
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	held, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = held.Release()
	}()

	l, err := Acquire(context.Background(), path, Options{Timeout: 5 * time.Second, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.NoError(t, l.Release())
}

func TestAcquire_MutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Acquire(context.Background(), path, Options{Timeout: 10 * time.Second, PollInterval: 5 * time.Millisecond})
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, l.Release())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestRelease_DoesNotRemoveForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	l, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)

	_, err = ForceRemove(path)
	require.NoError(t, err)
	other, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Error(t, l.Release())
	owner, err := ReadOwner(path)
	require.NoError(t, err, "foreign lock must stay in place")
	assert.Equal(t, other.Owner().ID, owner.ID)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no release leftovers")

	assert.NoError(t, other.Release())
	assert.NoFileExists(t, path)
}

func TestForceRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	_, err := ForceRemove(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	l, err := Acquire(context.Background(), path, Options{Command: "review P2"})
	require.NoError(t, err)
	owner, err := ForceRemove(path)
	require.NoError(t, err)
	assert.Equal(t, l.Owner().ID, owner.ID)
	assert.Equal(t, "review P2", owner.Command)
}

func TestAcquire_ParentCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluate.lock")
	held, err := Acquire(context.Background(), path, Options{})
	require.NoError(t, err)
	defer held.Release() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, Options{Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}
