// Package kinesis implements the shard-partitioned stream ServiceFacade
// variant of §4.5 (Variant B): batches are sent via PutRecords, one
// partition key per record (shared, or freshly randomized per record).
//
// This generalizes the teacher's Firehose retry-on-partial-failure loop
// (sender/firehose_sender.go's SendBatch, which walks
// PutRecordBatchOutput.RequestResponses looking for non-empty
// ErrorMessage fields) to Kinesis's structurally identical
// PutRecordsOutput.Records[].ErrorCode/ErrorMessage per-record outcome.
package kinesis

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/kinesis"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/retry"
	"github.com/Clever/log-writer-core/stats"
)

// Limits are the Variant B constants from §3. MaxMessageBytes here is the
// ceiling with no partition key subtracted yet; the Facade's Limits method
// subtracts the configured key length (8 for RandomPartitionKey) and adds
// it as per-message overhead.
var Limits = facade.Limits{
	MaxBatchBytes: 5242880,
	MaxBatchCount: 500,
	MaxMessageBytes: 1048576,
}

var streamNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

func validPartitionKey(key string) bool {
	return len(key) >= 1 && len(key) <= 256
}

// client is the minimal slice of kinesisiface.KinesisAPI this facade needs.
type client interface {
	PutRecords(*kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
	DescribeStreamSummary(*kinesis.DescribeStreamSummaryInput) (*kinesis.DescribeStreamSummaryOutput, error)
	CreateStream(*kinesis.CreateStreamInput) (*kinesis.CreateStreamOutput, error)
}

// Config is the Variant B configuration of §4.5.
type Config struct {
	StreamName         string
	PartitionKey       string
	ShardCount         *int64
	RetentionHours     *int64
	AutoCreate         bool
	RandomPartitionKey bool
}

// Facade implements facade.Rotatable against AWS Kinesis Data Streams.
type Facade struct {
	client client
	cfg    Config
	logger facade.InternalLogger
	stats  *stats.Statistics
}

// New constructs a Facade.
func New(c client, cfg Config, logger facade.InternalLogger, statistics *stats.Statistics) (*Facade, error) {
	if !streamNameRe.MatchString(cfg.StreamName) {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("invalid stream name %q", cfg.StreamName)}
	}
	if !cfg.RandomPartitionKey && !validPartitionKey(cfg.PartitionKey) {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("invalid partition key %q", cfg.PartitionKey)}
	}
	if logger == nil {
		logger = facade.NoopLogger{}
	}
	return &Facade{client: c, cfg: cfg, logger: logger, stats: statistics}, nil
}

// Limits returns the Variant B batch shape, with MaxMessageBytes reduced
// by this facade's partition-key length (§4.5: "1,048,576 −
// partition-key bytes"). RandomPartitionKey always draws an 8-digit key.
func (f *Facade) Limits() facade.Limits {
	keyLen := len(f.cfg.PartitionKey)
	if f.cfg.RandomPartitionKey {
		keyLen = 8
	}
	l := Limits
	l.MaxMessageBytes = Limits.MaxMessageBytes - keyLen
	l.PerMessageOverheadBytes = keyLen
	return l
}

// InitializeDestination polls DescribeStreamSummary until the stream is
// ACTIVE, creating it first if AutoCreate is set and it doesn't exist.
// DescribeStreamSummary is itself rate-limited by AWS; on throttling this
// retries with bounded exponential backoff up to the initialization
// deadline, per §4.5.
func (f *Facade) InitializeDestination(ctx context.Context) error {
	deadline := time.Now().Add(facade.InitializationDeadline)
	mgr := retry.New(time.Second, retry.Exponential, false)
	createAttempted := false

	_, _, err := retry.Invoke(ctx, mgr, deadline, func(attempt int) (struct{}, bool, error) {
		out, err := f.client.DescribeStreamSummary(&kinesis.DescribeStreamSummaryInput{
			StreamName: aws.String(f.cfg.StreamName),
		})
		if err != nil {
			kind := classify(err)
			if kind == facade.MissingResource && f.cfg.AutoCreate && !createAttempted {
				createAttempted = true
				if _, createErr := f.client.CreateStream(&kinesis.CreateStreamInput{
					StreamName: aws.String(f.cfg.StreamName),
					ShardCount: f.cfg.ShardCount,
				}); createErr != nil {
					return struct{}{}, false, &facade.Error{Kind: classify(createErr), Cause: createErr}
				}
				f.logger.Debug("created stream, waiting for it to activate")
				return struct{}{}, false, nil
			}
			if kind == facade.Throttling {
				f.logger.Warn("throttled while describing stream")
				return struct{}{}, false, nil
			}
			return struct{}{}, false, &facade.Error{Kind: kind, Cause: err}
		}

		status := aws.StringValue(out.StreamDescriptionSummary.StreamStatus)
		if status == kinesis.StreamStatusActive {
			return struct{}{}, true, nil
		}
		return struct{}{}, false, nil
	}, nil)

	if err != nil {
		f.stats.SetLastError(err)
		f.logger.Error("failed to initialize Kinesis destination", err)
		return err
	}

	f.stats.SetActualStreamName(f.cfg.StreamName)
	return nil
}

// Send issues one PutRecords call, one partition key per record (shared,
// or freshly random per record when RandomPartitionKey is set), and
// classifies each result entry's ErrorCode as Sent/Retry.
func (f *Facade) Send(ctx context.Context, batch []message.Message) ([]facade.Outcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	entries := make([]*kinesis.PutRecordsRequestEntry, len(batch))
	for i, m := range batch {
		key := f.cfg.PartitionKey
		if f.cfg.RandomPartitionKey {
			key = randomNumericKey()
		}
		entries[i] = &kinesis.PutRecordsRequestEntry{
			Data:         []byte(m.Text()),
			PartitionKey: aws.String(key),
		}
	}

	out, err := f.client.PutRecords(&kinesis.PutRecordsInput{
		StreamName: aws.String(f.cfg.StreamName),
		Records:    entries,
	})
	if err != nil {
		kind := classify(err)
		f.stats.SetLastError(&facade.Error{Kind: kind, Cause: err})
		return nil, &facade.Error{Kind: kind, Cause: err}
	}

	outcomes := make([]facade.Outcome, len(batch))
	if out.FailedRecordCount != nil && *out.FailedRecordCount > 0 {
		for i, r := range out.Records {
			if r.ErrorCode != nil && *r.ErrorCode != "" {
				outcomes[i] = facade.Retry
			} else {
				outcomes[i] = facade.Sent
			}
		}
		f.stats.SetLastError(fmt.Errorf("%d records rejected by Kinesis", *out.FailedRecordCount))
	} else {
		for i := range outcomes {
			outcomes[i] = facade.Sent
		}
	}
	return outcomes, nil
}

// Rotate re-resolves the stream name via subst and re-initializes.
func (f *Facade) Rotate(ctx context.Context, subst facade.Substitutions) error {
	now := time.Now()
	f.cfg.StreamName = subst.Expand(f.cfg.StreamName, now)
	return f.InitializeDestination(ctx)
}

// Shutdown releases resources. No-op; kept for contract symmetry.
func (f *Facade) Shutdown() {}

// randomNumericKey draws a fresh 8-digit numeric partition key uniformly
// at random (§4.5: "each record uses a fresh 8-digit numeric key").
func randomNumericKey() string {
	n, err := rand.Int(rand.Reader, big.NewInt(100000000))
	if err != nil {
		// crypto/rand failure is effectively unrecoverable for key
		// generation; fall back to the bottom of the range rather than
		// panic the writer goroutine.
		return "00000000"
	}
	return fmt.Sprintf("%08d", n.Int64())
}

func classify(err error) facade.ErrorKind {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return facade.Unexpected
	}
	switch aerr.Code() {
	case kinesis.ErrCodeProvisionedThroughputExceededException, kinesis.ErrCodeLimitExceededException:
		return facade.Throttling
	case kinesis.ErrCodeResourceInUseException:
		return facade.Aborted
	case kinesis.ErrCodeResourceNotFoundException:
		return facade.MissingResource
	case kinesis.ErrCodeInvalidArgumentException:
		return facade.InvalidConfiguration
	default:
		return facade.Unexpected
	}
}
