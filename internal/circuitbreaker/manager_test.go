package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTripsAfterMaxFailures(t *testing.T) {
	cb := NewManager(ManagerConfig{Name: "api.hive.blog", MaxFailures: 3, ResetTimeout: time.Minute})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		require.True(t, cb.AllowRequest())
		assert.Error(t, cb.Execute(func() error { return boom }))
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.AllowRequest())
}

func TestManagerHalfOpenRecoversAfterResetTimeout(t *testing.T) {
	cb := NewManager(ManagerConfig{Name: "api.hive.blog", MaxFailures: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 1})

	assert.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.AllowRequest())
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestManagerHalfOpenFailureReopens(t *testing.T) {
	cb := NewManager(ManagerConfig{Name: "api.hive.blog", MaxFailures: 1, ResetTimeout: time.Millisecond})

	assert.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.AllowRequest())
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.Error(t, cb.Execute(func() error { return errors.New("boom again") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestManagerStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewManager(ManagerConfig{
		Name:        "api.hive.blog",
		MaxFailures: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	assert.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, []string{"closed->open"}, transitions)
}
