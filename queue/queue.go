// Package queue implements the bounded multi-producer/single-consumer
// FIFO that sits between application threads calling Enqueue and the
// single writer goroutine calling Dequeue.
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/Clever/log-writer-core/message"
)

// DiscardAction determines what Enqueue does once the queue is at its
// threshold.
type DiscardAction int

const (
	// DiscardOldest drops the current head to make room for the new message.
	DiscardOldest DiscardAction = iota
	// DiscardNewest drops the message being enqueued.
	DiscardNewest
	// DiscardNone never drops; the queue grows unboundedly.
	DiscardNone
)

// Queue is a bounded FIFO of Message, safe for many concurrent producers
// (Enqueue, Requeue, RequeueAll) and a single consumer (Dequeue).
type Queue struct {
	mu        sync.Mutex
	notEmpty  *sync.Cond
	items     *list.List
	threshold int32
	action    DiscardAction

	discarded    int64
	interruptGen int64
}

// New constructs a Queue with the given discard threshold and action.
// When action != DiscardNone, a threshold below 1 is treated as 1, so the
// queue then holds at most one message.
func New(threshold int32, action DiscardAction) *Queue {
	q := &Queue{
		items:     list.New(),
		threshold: threshold,
		action:    action,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// SetThreshold updates the discard threshold; it takes effect on the next
// Enqueue.
func (q *Queue) SetThreshold(n int32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.threshold = n
}

// SetAction updates the discard action; it takes effect on the next Enqueue.
func (q *Queue) SetAction(a DiscardAction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.action = a
}

func (q *Queue) effectiveThreshold() int32 {
	if q.threshold < 1 {
		return 1
	}
	return q.threshold
}

// Enqueue appends msg at the tail, applying the discard policy when the
// queue is at its threshold. It never blocks and never returns an error;
// it returns true when the policy discarded a message (the old head under
// DiscardOldest, msg itself under DiscardNewest).
func (q *Queue) Enqueue(msg message.Message) (discarded bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.action != DiscardNone && int32(q.items.Len()) >= q.effectiveThreshold() {
		switch q.action {
		case DiscardOldest:
			front := q.items.Front()
			if front != nil {
				q.items.Remove(front)
			}
			q.discarded++
			q.items.PushBack(msg)
			q.notEmpty.Signal()
			return true
		case DiscardNewest:
			q.discarded++
			return true
		}
	}

	q.items.PushBack(msg)
	q.notEmpty.Signal()
	return false
}

// Requeue inserts msg at the head. It always succeeds; the threshold is
// not enforced, since this is how the writer restores messages it failed
// to send.
func (q *Queue) Requeue(msg message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushFront(msg)
	q.notEmpty.Signal()
}

// RequeueAll inserts msgs at the head, in order, so that msgs[0] becomes
// the new head of the queue.
func (q *Queue) RequeueAll(msgs []message.Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(msgs) - 1; i >= 0; i-- {
		q.items.PushFront(msgs[i])
	}
	q.notEmpty.Signal()
}

// Dequeue waits up to timeout for a message to become available. It
// returns ok=false if the wait times out with the queue still empty. A
// non-positive timeout never blocks.
func (q *Queue) Dequeue(timeout time.Duration) (msg message.Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		if timeout <= 0 {
			return message.Message{}, false
		}
		q.waitLocked(timeout)
	}

	front := q.items.Front()
	if front == nil {
		return message.Message{}, false
	}
	q.items.Remove(front)
	return front.Value.(message.Message), true
}

// Interrupt wakes any goroutine currently blocked in Dequeue's wait,
// causing it to return immediately with ok=false if the queue is still
// empty. Used by a writer's stop() to interrupt a pending dequeue wait
// without waiting out its full timeout.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interruptGen++
	q.notEmpty.Broadcast()
}

// waitLocked blocks on notEmpty for at most timeout, re-checking after
// each wake-up. Caller must hold q.mu.
func (q *Queue) waitLocked(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	startGen := q.interruptGen
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		close(done)
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for q.items.Len() == 0 {
		if q.interruptGen != startGen {
			return
		}
		select {
		case <-done:
			return
		default:
		}
		if !time.Now().Before(deadline) {
			return
		}
		q.notEmpty.Wait()
	}
}

// IsEmpty reports whether the queue currently holds no messages. It is
// observational only and need not be linearized with concurrent writes.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Size returns the current number of live messages.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// DiscardedCount returns the cumulative number of messages dropped by the
// discard policy since construction.
func (q *Queue) DiscardedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.discarded
}

// Drain removes and returns every message currently queued, head first.
// Used when a writer enters InitFailed and must empty the queue while
// counting the drained messages as discarded.
func (q *Queue) Drain() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]message.Message, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(message.Message))
	}
	q.items.Init()
	return out
}
