package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerExcludesSameKey(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "a")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	// Other keys are independent.
	other, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLockerContextCancel(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len())
}

func TestLockerUnlockTwice(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	unlock()

	assert.Zero(t, l.Len())
}
