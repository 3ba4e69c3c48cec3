package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}

		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	wantErr := errors.New("still broken")

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++

		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, calls)
}

func TestDoPermanentStopsAtOnce(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	wantErr := errors.New("hopeless")

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++

		return Permanent(wantErr)
	})

	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, calls)
}

func TestDoHonorsContext(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func() error {
		calls++

		return errors.New("transient")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls, "the hour-long delay must be cut short by cancellation")
}

func TestLinearBackOff(t *testing.T) {
	bo := &linearBackOff{base: time.Second}

	require.Equal(t, time.Second, bo.NextBackOff())
	require.Equal(t, 2*time.Second, bo.NextBackOff())
	require.Equal(t, 3*time.Second, bo.NextBackOff())

	bo.Reset()
	require.Equal(t, time.Second, bo.NextBackOff())
}
