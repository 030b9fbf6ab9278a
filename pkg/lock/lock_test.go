package lock

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/harvester/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{URL: "redis://unused", Key: "harvester:test", TTL: 300 * time.Millisecond}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "disabled", cfg: Config{}},
		{name: "valid", cfg: Config{URL: "redis://localhost:6379", Key: "k", TTL: 30 * time.Second}},
		{name: "missing key", cfg: Config{URL: "redis://localhost:6379", TTL: 30 * time.Second}, want: ErrKeyRequired},
		{name: "short ttl", cfg: Config{URL: "redis://localhost:6379", Key: "k", TTL: time.Millisecond}, want: ErrInvalidTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLease(t *testing.T) {
	log := testutil.NewLogger(t)
	ctx := context.Background()

	t.Run("single holder", func(t *testing.T) {
		mr, client := testutil.NewMiniredisClient(t)

		first := New(log, client, testConfig(), "")
		second := New(log, client, testConfig(), "")
		assert.NotEqual(t, first.Token(), second.Token())

		ok, err := first.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, first.Held())

		owner, err := mr.Get("harvester:test")
		require.NoError(t, err)
		assert.Equal(t, first.Token(), owner)

		ok, err = second.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "second holder must be rejected")
		assert.False(t, second.Held())

		require.NoError(t, first.Release(ctx))
		assert.False(t, first.Held())
		assert.False(t, mr.Exists("harvester:test"))

		ok, err = second.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, second.Release(ctx))
	})

	t.Run("acquire waits for release", func(t *testing.T) {
		_, client := testutil.NewMiniredisClient(t)

		first := New(log, client, testConfig(), "first")
		second := New(log, client, testConfig(), "second")

		require.NoError(t, first.Acquire(ctx))

		acquired := make(chan error, 1)
		go func() {
			acquired <- second.Acquire(ctx)
		}()

		select {
		case <-acquired:
			t.Fatal("second holder acquired while lock was held")
		case <-time.After(250 * time.Millisecond):
		}

		require.NoError(t, first.Release(ctx))

		select {
		case err := <-acquired:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("second holder never acquired the lock")
		}

		assert.True(t, second.Held())
		require.NoError(t, second.Release(ctx))
	})

	t.Run("acquire honours context", func(t *testing.T) {
		_, client := testutil.NewMiniredisClient(t)

		holder := New(log, client, testConfig(), "holder")
		require.NoError(t, holder.Acquire(ctx))
		defer holder.Release(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()

		err := New(log, client, testConfig(), "waiter").Acquire(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("lease is renewed", func(t *testing.T) {
		mr, client := testutil.NewMiniredisClient(t)

		l := New(log, client, testConfig(), "")
		require.NoError(t, l.Acquire(ctx))
		defer l.Release(ctx)

		mr.SetTTL("harvester:test", 10*time.Millisecond)

		assert.Eventually(t, func() bool {
			return mr.TTL("harvester:test") > 100*time.Millisecond
		}, 2*time.Second, 20*time.Millisecond)
		assert.True(t, l.Held())
	})

	t.Run("lost lease is detected", func(t *testing.T) {
		mr, client := testutil.NewMiniredisClient(t)

		l := New(log, client, testConfig(), "")
		require.NoError(t, l.Acquire(ctx))

		require.NoError(t, mr.Set("harvester:test", "someone-else"))

		select {
		case <-l.Lost():
		case <-time.After(2 * time.Second):
			t.Fatal("lost lease was never signalled")
		}

		assert.False(t, l.Held())
		assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)

		owner, err := mr.Get("harvester:test")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", owner, "release never deletes a foreign lease")
	})

	t.Run("lost is not signalled on release", func(t *testing.T) {
		_, client := testutil.NewMiniredisClient(t)

		l := New(log, client, testConfig(), "")
		assert.Nil(t, l.Lost())

		require.NoError(t, l.Acquire(ctx))
		lost := l.Lost()
		require.NotNil(t, lost)

		require.NoError(t, l.Release(ctx))

		select {
		case <-lost:
			t.Fatal("released lease reported as lost")
		case <-time.After(250 * time.Millisecond):
		}
	})

	t.Run("release without holding", func(t *testing.T) {
		_, client := testutil.NewMiniredisClient(t)

		assert.ErrorIs(t, New(log, client, testConfig(), "").Release(ctx), ErrNotHeld)
	})
}
