// Package batcher implements the single buildBatch algorithm of §4.3:
// pull messages off a queue, respecting a service's byte/count limits and
// a batch-assembly deadline, pushing back onto the queue head whatever
// doesn't fit.
//
// This generalizes the teacher's batcher (batcher/message_batcher.go),
// which ran its own goroutine and a size/count/interval select loop keyed
// to one destination (Firehose). Here the Writer owns the goroutine and
// calls BuildBatch synchronously each cycle, because the spec's Writer
// state machine (§4.4) needs to interleave buildBatch with send/retry and
// with shutdown-deadline checks that the teacher's fire-and-forget flush
// loop didn't need to reason about.
package batcher

import (
	"time"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/queue"
)

// BuildBatch waits up to firstMessageTimeout for a first message; if one
// arrives, it keeps accumulating messages (each waited for with at most
// the remaining time until batchDelay has elapsed since the first
// message) as long as adding the next message would not exceed limits.
// The first message is never rejected by the limits check. A message that
// would overflow the batch is pushed back to the queue head and the
// accumulated batch is returned.
func BuildBatch(q *queue.Queue, firstMessageTimeout time.Duration, batchDelay time.Duration, limits facade.Limits) []message.Message {
	first, ok := q.Dequeue(firstMessageTimeout)
	if !ok {
		return nil
	}

	batch := []message.Message{first}
	batchBytes := limits.EffectiveSize(first)
	batchDeadline := time.Now().Add(batchDelay)

	for {
		remaining := time.Until(batchDeadline)
		if remaining <= 0 {
			return batch
		}

		next, ok := q.Dequeue(remaining)
		if !ok {
			return batch
		}

		nextSize := limits.EffectiveSize(next)
		if !limits.WithinLimits(batchBytes+nextSize, len(batch)+1) {
			q.Requeue(next)
			return batch
		}

		batch = append(batch, next)
		batchBytes += nextSize
	}
}
