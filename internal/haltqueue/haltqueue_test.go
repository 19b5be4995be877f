package haltqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagSetClear(t *testing.T) {
	f := New()
	assert.False(t, f.IsSet())

	f.Set()
	assert.True(t, f.IsSet())

	f.Clear()
	assert.False(t, f.IsSet())
}
