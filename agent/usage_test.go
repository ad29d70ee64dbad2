package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageCollector(t *testing.T) {
	c := newUsageCollector()

	first := c.Collect()
	require.False(t, first.Timestamp.IsZero())
	// The first sample has no previous jiffy counts to diff against.
	assert.Zero(t, first.CPU.Percent)

	second := c.Collect()
	assert.True(t, second.Timestamp.After(first.Timestamp) || second.Timestamp.Equal(first.Timestamp))
	assert.GreaterOrEqual(t, second.CPU.Percent, 0.0)
	assert.LessOrEqual(t, second.CPU.Percent, 100.0)
}
