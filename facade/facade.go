// Package facade defines the contract every destination-specific service
// wrapper implements (§4.5), the error taxonomy those wrappers classify
// AWS SDK errors into (§4.5/§7), and the batch-limit shape each facade
// imposes on the Batcher.
package facade

import (
	"context"
	"time"

	"github.com/Clever/log-writer-core/message"
)

// Outcome is what a facade reports for one message after a send attempt.
type Outcome int

const (
	// Sent means the service accepted the message.
	Sent Outcome = iota
	// Retry means the message should be requeued at the head and tried
	// again (transient: throttled, record-level rejection, etc).
	Retry
	// Fail means the message should be dropped permanently (e.g. oversize
	// after formatting, or a destination that will never exist).
	Fail
)

// ErrorKind is the facade error taxonomy of §4.5/§7.
type ErrorKind int

const (
	// Throttling: retry with exponential backoff until deadline.
	Throttling ErrorKind = iota
	// Aborted: retry once, then surface.
	Aborted
	// MissingResource: attempt create if configured, else fail.
	MissingResource
	// InvalidConfiguration: fail permanently, do not retry.
	InvalidConfiguration
	// InvalidSequenceToken: facade recovers internally (CloudWatch Logs only).
	InvalidSequenceToken
	// AlreadyProcessed: treat as success (deduplicated server-side).
	AlreadyProcessed
	// Unexpected: retry with backoff up to deadline, then surface.
	Unexpected
)

func (k ErrorKind) String() string {
	switch k {
	case Throttling:
		return "THROTTLING"
	case Aborted:
		return "ABORTED"
	case MissingResource:
		return "MISSING_RESOURCE"
	case InvalidConfiguration:
		return "INVALID_CONFIGURATION"
	case InvalidSequenceToken:
		return "INVALID_SEQUENCE_TOKEN"
	case AlreadyProcessed:
		return "ALREADY_PROCESSED"
	default:
		return "UNEXPECTED_EXCEPTION"
	}
}

// Error wraps an ErrorKind with the underlying cause, so callers can
// errors.As against it while %w-wrapping preserves the cause chain.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Limits describes the per-service shape constraints the Batcher must
// respect (§3's BatchLimits table), plus the predicates needed to
// evaluate them against an arbitrary message.
type Limits struct {
	MaxBatchBytes int
	MaxBatchCount int
	MaxMessageBytes int
	// PerMessageOverheadBytes is the fixed per-message accounting overhead
	// added to ByteLength when summing toward MaxBatchBytes (26 for
	// CloudWatch Logs; for Kinesis, the partition-key length, set by the
	// Kinesis facade's Limits method).
	PerMessageOverheadBytes int
}

// EffectiveSize returns the batch-accounting size of msg under these
// limits: its cached byte length plus the per-message overhead.
func (l Limits) EffectiveSize(msg message.Message) int {
	return msg.ByteLength() + l.PerMessageOverheadBytes
}

// WithinLimits reports whether a batch with the given accumulated bytes
// and count still satisfies l.
func (l Limits) WithinLimits(batchBytes, batchCount int) bool {
	return batchBytes <= l.MaxBatchBytes && batchCount <= l.MaxBatchCount
}

// Facade is the uniform contract of §4.5, implemented by the
// CloudWatch-Logs, Kinesis, and SNS variants.
type Facade interface {
	// InitializeDestination ensures the destination exists (optionally
	// creating it), blocks until it is usable, and records the resolved
	// identifier(s) into statistics. Returns an *Error on failure.
	InitializeDestination(ctx context.Context) error

	// Send attempts delivery of batch and returns one Outcome per input
	// message, in the same order as batch. If the facade can only signal
	// a whole-batch failure, it returns an *Error and a nil outcome slice;
	// the caller then treats every message as Retry.
	Send(ctx context.Context, batch []message.Message) ([]Outcome, error)

	// Limits returns this facade's batch shape constraints.
	Limits() Limits

	// Shutdown releases client resources. Idempotent.
	Shutdown()
}

// Rotatable is implemented by facades whose destination name can be
// recomputed and re-initialized (the two stream-name-based variants).
// The topic facade also satisfies it, but its Rotate does nothing
// (§4.4).
type Rotatable interface {
	Facade
	// Rotate recomputes the destination name via subst and re-initializes.
	Rotate(ctx context.Context, subst Substitutions) error
}

// InitializationDeadline is the default deadline budget facades use for
// InitializeDestination's internal polling (§4.6: "initialization uses a
// ~60s deadline").
const InitializationDeadline = 60 * time.Second

// SendDeadline derives the per-send retry deadline from the writer's
// configured batch delay (§4.6: "sends use batchDelayMillis * 3").
func SendDeadline(batchDelay time.Duration) time.Duration {
	if batchDelay <= 0 {
		return 3 * time.Second
	}
	return 3 * batchDelay
}
