package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTryAcquire_FirstCallSucceeds(t *testing.T) {
	tracker := NewTracker(time.Minute, zap.NewNop())
	defer tracker.Stop()

	assert.True(t, tracker.TryAcquire("D1", "B1"))
	assert.Equal(t, 1, tracker.Len())
}

func TestTryAcquire_SecondCallSuppressed(t *testing.T) {
	tracker := NewTracker(time.Minute, zap.NewNop())
	defer tracker.Stop()

	assert.True(t, tracker.TryAcquire("D1", "B1"))
	assert.False(t, tracker.TryAcquire("D1", "B1"))
	assert.Equal(t, 1, tracker.Len())
}

func TestTryAcquire_DifferentPairsIndependent(t *testing.T) {
	tracker := NewTracker(time.Minute, zap.NewNop())
	defer tracker.Stop()

	assert.True(t, tracker.TryAcquire("D1", "B1"))
	assert.True(t, tracker.TryAcquire("D1", "B2"))
	assert.True(t, tracker.TryAcquire("D2", "B1"))
	assert.Equal(t, 3, tracker.Len())
}

func TestTryAcquire_ExpiresAfterWindow(t *testing.T) {
	tracker := NewTracker(50*time.Millisecond, zap.NewNop())
	defer tracker.Stop()

	assert.True(t, tracker.TryAcquire("D1", "B1"))
	assert.False(t, tracker.TryAcquire("D1", "B1"))

	// 等待窗口过期后可再次占用
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, tracker.Len())
	assert.True(t, tracker.TryAcquire("D1", "B1"))
}

func TestTryAcquire_ConcurrentSinglePair(t *testing.T) {
	tracker := NewTracker(time.Minute, zap.NewNop())
	defer tracker.Stop()

	// 同一对键的并发竞争只允许一个成功
	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.TryAcquire("D1", "B1") {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, tracker.Len())
}

func TestStop_ClearsEntries(t *testing.T) {
	tracker := NewTracker(time.Minute, zap.NewNop())

	tracker.TryAcquire("D1", "B1")
	tracker.TryAcquire("D1", "B2")
	tracker.Stop()

	assert.Equal(t, 0, tracker.Len())
}
