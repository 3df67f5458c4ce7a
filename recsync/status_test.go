package recsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusBus_DropsStatusesWithoutDispatcher(t *testing.T) {
	b := newStatusBus(quietLogger())
	var mu sync.Mutex
	var seen []Status
	b.subscribe(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		b.publish(Status{TotalItems: i})
	}
	b.mu.Lock()
	require.Empty(t, b.pending)
	b.mu.Unlock()

	b.start()
	b.publish(Status{TotalItems: 7})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, 7, seen[0].TotalItems)
	mu.Unlock()

	b.close()
	for i := 0; i < 100; i++ {
		b.publish(Status{TotalItems: i})
	}
	b.mu.Lock()
	require.Empty(t, b.pending)
	b.mu.Unlock()
	mu.Lock()
	require.Len(t, seen, 1)
	mu.Unlock()
}
