package queue

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Clever/log-writer-core/message"
)

func msg(text string) message.Message {
	return message.New(0, text)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(10, DiscardNone)
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))

	m, ok := q.Dequeue(0)
	assert.True(t, ok)
	assert.Equal(t, "a", m.Text())

	m, ok = q.Dequeue(0)
	assert.True(t, ok)
	assert.Equal(t, "b", m.Text())

	_, ok = q.Dequeue(0)
	assert.False(t, ok)
}

func TestDequeueZeroTimeoutNeverBlocks(t *testing.T) {
	q := New(10, DiscardNone)
	start := time.Now()
	_, ok := q.Dequeue(0)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDequeueWaitsForMessage(t *testing.T) {
	q := New(10, DiscardNone)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(msg("late"))
	}()

	m, ok := q.Dequeue(time.Second)
	assert.True(t, ok)
	assert.Equal(t, "late", m.Text())
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	q := New(10, DiscardNone)
	start := time.Now()
	_, ok := q.Dequeue(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestInterruptWakesPendingDequeue(t *testing.T) {
	q := New(10, DiscardNone)
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Interrupt()
	}()

	_, ok := q.Dequeue(time.Hour)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscardOldestKeepsNewest(t *testing.T) {
	q := New(10, DiscardOldest)
	for i := 0; i < 20; i++ {
		q.Enqueue(msg("m" + strconv.Itoa(i)))
	}

	assert.Equal(t, int64(10), q.DiscardedCount())
	assert.Equal(t, 10, q.Size())

	for i := 10; i < 20; i++ {
		m, ok := q.Dequeue(0)
		assert.True(t, ok)
		assert.Equal(t, "m"+strconv.Itoa(i), m.Text())
	}
}

func TestDiscardNewestDropsIncoming(t *testing.T) {
	q := New(2, DiscardNewest)
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))
	q.Enqueue(msg("c")) // dropped

	assert.Equal(t, int64(1), q.DiscardedCount())
	assert.Equal(t, 2, q.Size())

	m, _ := q.Dequeue(0)
	assert.Equal(t, "a", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "b", m.Text())
}

func TestRequeueBypassesThreshold(t *testing.T) {
	q := New(1, DiscardOldest)
	q.Enqueue(msg("a"))
	q.Requeue(msg("z"))
	q.Requeue(msg("y"))

	// Requeue always succeeds regardless of threshold.
	assert.Equal(t, 3, q.Size())

	m, _ := q.Dequeue(0)
	assert.Equal(t, "y", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "z", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "a", m.Text())
}

func TestRequeueAllPreservesOrderAtHead(t *testing.T) {
	q := New(100, DiscardNone)
	q.Enqueue(msg("existing"))

	q.RequeueAll([]message.Message{msg("r1"), msg("r2"), msg("r3")})

	m, _ := q.Dequeue(0)
	assert.Equal(t, "r1", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "r2", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "r3", m.Text())
	m, _ = q.Dequeue(0)
	assert.Equal(t, "existing", m.Text())
}

func TestConcurrentEnqueuesAreLinearizable(t *testing.T) {
	q := New(100000, DiscardNone)
	var wg sync.WaitGroup
	const producers = 20
	const perProducer = 100

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(msg("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Size())
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New(10, DiscardNone)
	q.Enqueue(msg("a"))
	q.Enqueue(msg("b"))

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.True(t, q.IsEmpty())
}

