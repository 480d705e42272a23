// Copyright 2017, Kerby Shedden and the Muscato contributors.

package tokenring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingOrdersConcurrentWriters(t *testing.T) {
	const n = 6
	const rounds = 20
	r := New(n)

	var out []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < rounds; round++ {
				r.Wait(i)
				mu.Lock()
				out = append(out, i)
				mu.Unlock()
				r.Pass(i)
			}
		}()
	}
	wg.Wait()

	require.Len(t, out, n*rounds)
	for round := 0; round < rounds; round++ {
		for i := 0; i < n; i++ {
			require.Equal(t, i, out[round*n+i])
		}
	}
}

func TestResetRestartsAtTokenZero(t *testing.T) {
	r := New(3)
	r.Wait(0)
	r.Pass(0)
	r.Wait(1)
	r.Pass(1)

	r.Reset()
	// After reset, token 0 should be immediately available again.
	done := make(chan struct{})
	go func() {
		r.Wait(0)
		close(done)
	}()
	<-done
}
