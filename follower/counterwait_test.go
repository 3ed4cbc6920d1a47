package follower

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterWaitUpdateWakesSatisfiedWaiters(t *testing.T) {
	cw := NewCounterWait()
	require.EqualValues(t, 0, cw.Value())

	var wg sync.WaitGroup
	results := make([]Outcome, 3)
	thresholds := []int64{5, 10, 15}

	for i, th := range thresholds {
		wg.Add(1)
		go func(i int, th int64) {
			defer wg.Done()
			results[i] = cw.Wait(context.Background(), th, time.Second)
		}(i, th)
	}

	time.Sleep(20 * time.Millisecond) // let the goroutines register as waiters
	cw.Update(10)
	wg.Wait()

	require.Equal(t, OutcomeOK, results[0], "threshold 5 satisfied by value 10")
	require.Equal(t, OutcomeOK, results[1], "threshold 10 satisfied by value 10")
	require.Equal(t, OutcomeTimeout, results[2], "threshold 15 not yet satisfied")
}

func TestCounterWaitUpdateIgnoresRegression(t *testing.T) {
	cw := NewCounterWait()
	cw.Update(10)
	cw.Update(5)
	require.EqualValues(t, 10, cw.Value())
}

func TestCounterWaitResetMovesBackward(t *testing.T) {
	cw := NewCounterWait()
	cw.Update(10)
	cw.Reset(3)
	require.EqualValues(t, 3, cw.Value())
}

func TestCounterWaitWaitAlreadySatisfied(t *testing.T) {
	cw := NewCounterWait()
	cw.Update(42)
	outcome := cw.Wait(context.Background(), 10, time.Second)
	require.Equal(t, OutcomeOK, outcome)
}

func TestCounterWaitWaitCancelled(t *testing.T) {
	cw := NewCounterWait()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := cw.Wait(ctx, 1, time.Second)
	require.Equal(t, OutcomeCancelled, outcome)
}
