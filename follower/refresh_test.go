package follower

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefreshSignalTestAndClear(t *testing.T) {
	r := NewRefreshSignal("topic-a")
	require.False(t, r.TestAndClear(), "unset by default")

	r.OnMessage("topic-a", []byte("rebuild"))
	require.True(t, r.TestAndClear(), "latched after message")
	require.False(t, r.TestAndClear(), "cleared after first read")
}

func TestRefreshSignalSet(t *testing.T) {
	r := NewRefreshSignal("topic-a")
	r.Set()
	require.True(t, r.TestAndClear())
}

func TestRefreshSignalTopicMismatchPanics(t *testing.T) {
	r := NewRefreshSignal("topic-a")
	require.Panics(t, func() {
		r.OnMessage("topic-b", nil)
	})
}
