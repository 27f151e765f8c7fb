package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderCodeIsPositive(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.Positive(t, NewOrderCode())
	}
}

// The per-process counter guarantees distinct codes for any burst that
// fits inside its 6-bit window, even when every call lands in the same
// millisecond.
func TestNewOrderCodeUniqueUnderConcurrency(t *testing.T) {
	const perWorker = 16
	const workers = 4

	var mu sync.Mutex
	seen := make(map[int64]struct{}, perWorker*workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				codes = append(codes, NewOrderCode())
			}
			mu.Lock()
			for _, c := range codes {
				seen[c] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, perWorker*workers)
}
