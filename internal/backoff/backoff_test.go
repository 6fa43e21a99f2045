package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyNext(t *testing.T) {
	p := Policy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, p.Next(0))
	assert.Equal(t, 20*time.Millisecond, p.Next(10*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, p.Next(20*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, p.Next(40*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, p.Next(50*time.Millisecond))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Policy{Initial: time.Millisecond, Max: time.Second}.Validate())
	assert.Error(t, Policy{Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: time.Millisecond}.Validate())
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 4 * time.Millisecond}
	calls := 0
	var retries []Attempt

	attempts, err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, func(a Attempt) { retries = append(retries, a) })

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Number)
	assert.Equal(t, time.Millisecond, retries[0].NextRetry)
	assert.Equal(t, 2*time.Millisecond, retries[1].NextRetry)
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	boom := errors.New("boom")
	_, err := Retry(ctx, Policy{Initial: 5 * time.Millisecond, Max: 5 * time.Millisecond},
		func(context.Context) error { return boom }, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
}
