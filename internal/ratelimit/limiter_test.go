package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	re := require.New(t)
	l := New(Config{Limit: 1000, Burst: 5, Enable: true})

	for i := 0; i < 5; i++ {
		re.True(l.Allow())
	}
	re.False(l.Allow())
}

func TestLimiterDisabledAlwaysAllows(t *testing.T) {
	l := New(Config{Limit: 1, Burst: 1, Enable: false})
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow())
	}
}

func TestLimiterUpdateChangesConfig(t *testing.T) {
	re := require.New(t)
	l := New(Config{Limit: 10, Burst: 1, Enable: true})
	re.True(l.Allow())
	re.False(l.Allow())

	l.Update(Config{Limit: 1000, Burst: 5, Enable: true})
	cfg := l.Config()
	re.Equal(1000, cfg.Limit)
	re.Equal(5, cfg.Burst)

	time.Sleep(2 * time.Millisecond)
	re.True(l.Allow())
}
