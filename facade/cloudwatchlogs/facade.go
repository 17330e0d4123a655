// Package cloudwatchlogs implements the group-and-stream ServiceFacade
// variant of §4.5 (Variant A): batches are sent via PutLogEvents against
// a log group + log stream, carrying a sequence token that must be
// presented on every call and refreshed on InvalidSequenceTokenException.
//
// This generalizes the teacher's Firehose facade (sender/firehose_sender.go,
// writer/firehose_writer.go), which speaks aws-sdk-go's
// firehoseiface.FirehoseAPI and retries on FailedPutCount, to the sibling
// CloudWatch Logs API and its sequence-token protocol.
package cloudwatchlogs

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/retry"
	"github.com/Clever/log-writer-core/stats"
)

// Limits are the Variant A constants from §3: 1,048,576 total bytes minus
// 26 bytes of per-message accounting overhead, 10,000 messages, and
// 262,118 bytes per message after overhead.
var Limits = facade.Limits{
	MaxBatchBytes:           1048576 - 26,
	MaxBatchCount:           10000,
	MaxMessageBytes:         262118,
	PerMessageOverheadBytes: 26,
}

var groupNameRe = regexp.MustCompile(`^[A-Za-z0-9_/.#-]{1,512}$`)

func validStreamName(name string) bool {
	if len(name) < 1 || len(name) > 512 {
		return false
	}
	for _, r := range name {
		if r == ':' || r == '*' {
			return false
		}
	}
	return true
}

// client is the minimal slice of cloudwatchlogsiface.CloudWatchLogsAPI
// this facade needs, accepted as an interface so tests can supply a small
// fake instead of a full generated mock of the (100+ method) SDK
// interface.
type client interface {
	PutLogEvents(*cloudwatchlogs.PutLogEventsInput) (*cloudwatchlogs.PutLogEventsOutput, error)
	DescribeLogStreams(*cloudwatchlogs.DescribeLogStreamsInput) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	CreateLogGroup(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(*cloudwatchlogs.CreateLogStreamInput) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutRetentionPolicy(*cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

// Config is the Variant A configuration of §4.5.
type Config struct {
	LogGroupName     string
	LogStreamName    string
	RetentionDays    *int64
	DedicatedWriter  bool
	AutoCreate       bool
}

// Facade implements facade.Rotatable against AWS CloudWatch Logs.
type Facade struct {
	client client
	cfg    Config
	logger facade.InternalLogger
	stats  *stats.Statistics

	sequenceTokenCache *lru.Cache[string, string]
	cacheKey           string
	logStreamPattern   string
}

// New constructs a Facade. client is typically cloudwatchlogs.New(sess).
func New(c client, cfg Config, logger facade.InternalLogger, statistics *stats.Statistics) (*Facade, error) {
	if !groupNameRe.MatchString(cfg.LogGroupName) {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("invalid log group name %q", cfg.LogGroupName)}
	}
	if !validStreamName(cfg.LogStreamName) {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("invalid log stream name %q", cfg.LogStreamName)}
	}
	if logger == nil {
		logger = facade.NoopLogger{}
	}

	cache, err := lru.New[string, string](64)
	if err != nil {
		return nil, err
	}

	return &Facade{
		client:             c,
		cfg:                cfg,
		logger:             logger,
		stats:              statistics,
		sequenceTokenCache: cache,
		cacheKey:           cfg.LogGroupName + "/" + cfg.LogStreamName,
		logStreamPattern:   cfg.LogStreamName,
	}, nil
}

func (f *Facade) Limits() facade.Limits { return Limits }

// InitializeDestination ensures the log group and stream exist (creating
// them when AutoCreate is set, and applying RetentionDays, if given, when
// it creates them), and records the resolved names into statistics.
func (f *Facade) InitializeDestination(ctx context.Context) error {
	deadline := time.Now().Add(facade.InitializationDeadline)
	mgr := retry.New(time.Second, retry.Exponential, false)

	_, _, err := retry.Invoke(ctx, mgr, deadline, func(attempt int) (struct{}, bool, error) {
		token, found, err := f.describeSequenceToken(ctx)
		if err == nil {
			if found {
				f.sequenceTokenCache.Add(f.cacheKey, token)
			}
			return struct{}{}, true, nil
		}

		kind := classify(err)
		if kind == facade.MissingResource && f.cfg.AutoCreate {
			if createErr := f.createDestination(ctx); createErr != nil {
				return struct{}{}, false, &facade.Error{Kind: classify(createErr), Cause: createErr}
			}
			f.logger.Debug("created log group/stream, retrying describe")
			return struct{}{}, false, nil
		}
		if kind == facade.Throttling {
			f.logger.Warn("throttled while describing log stream")
			return struct{}{}, false, nil
		}
		return struct{}{}, false, &facade.Error{Kind: kind, Cause: err}
	}, nil)

	if err != nil {
		f.stats.SetLastError(err)
		f.logger.Error("failed to initialize CloudWatch Logs destination", err)
		return err
	}

	f.stats.SetActualLogDestination(f.cfg.LogGroupName, f.cfg.LogStreamName)
	return nil
}

func (f *Facade) describeSequenceToken(ctx context.Context) (token string, found bool, err error) {
	out, err := f.client.DescribeLogStreams(&cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(f.cfg.LogGroupName),
		LogStreamNamePrefix: aws.String(f.cfg.LogStreamName),
		Limit:               aws.Int64(1),
	})
	if err != nil {
		return "", false, err
	}
	for _, s := range out.LogStreams {
		if s.LogStreamName != nil && *s.LogStreamName == f.cfg.LogStreamName {
			if s.UploadSequenceToken != nil {
				return *s.UploadSequenceToken, true, nil
			}
			return "", false, nil
		}
	}
	return "", false, &facade.Error{Kind: facade.MissingResource, Cause: fmt.Errorf("log stream %s not found", f.cfg.LogStreamName)}
}

func (f *Facade) createDestination(ctx context.Context) error {
	_, err := f.client.CreateLogGroup(&cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(f.cfg.LogGroupName)})
	if err != nil && classify(err) != facade.AlreadyProcessed {
		return err
	}
	_, err = f.client.CreateLogStream(&cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(f.cfg.LogGroupName),
		LogStreamName: aws.String(f.cfg.LogStreamName),
	})
	if err != nil && classify(err) != facade.AlreadyProcessed {
		return err
	}
	if f.cfg.RetentionDays != nil {
		_, _ = f.client.PutRetentionPolicy(&cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    aws.String(f.cfg.LogGroupName),
			RetentionInDays: f.cfg.RetentionDays,
		})
	}
	return nil
}

// Send sorts a copy of batch ascending by timestamp (stable, to preserve
// FIFO among equal timestamps), then calls PutLogEvents. On
// InvalidSequenceTokenException it re-fetches the token and retries the
// same batch once; on DataAlreadyAcceptedException the whole batch is
// Sent.
func (f *Facade) Send(ctx context.Context, batch []message.Message) ([]facade.Outcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	sorted := stableSortByTimestamp(batch)
	token, _ := f.sequenceTokenCache.Get(f.cacheKey)

	out, err := f.putLogEvents(sorted, token)
	if err != nil {
		kind := classify(err)
		if kind == facade.InvalidSequenceToken {
			newToken, found, describeErr := f.describeSequenceToken(ctx)
			if describeErr == nil && found {
				f.sequenceTokenCache.Add(f.cacheKey, newToken)
				out, err = f.putLogEvents(sorted, newToken)
			}
		}
	}
	if err != nil {
		kind := classify(err)
		if kind == facade.AlreadyProcessed {
			outcomes := make([]facade.Outcome, len(batch))
			for i := range outcomes {
				outcomes[i] = facade.Sent
			}
			return outcomes, nil
		}
		f.stats.SetLastError(&facade.Error{Kind: kind, Cause: err})
		return nil, &facade.Error{Kind: kind, Cause: err}
	}

	if out.NextSequenceToken != nil {
		f.sequenceTokenCache.Add(f.cacheKey, *out.NextSequenceToken)
	}

	outcomes := make([]facade.Outcome, len(batch))
	for i := range outcomes {
		outcomes[i] = facade.Sent
	}
	if out.RejectedLogEventsInfo != nil {
		// CloudWatch Logs rejects by index range rather than per-record
		// error code; any populated rejection info means those indices
		// (relative to the sorted batch; markRejected maps them back to
		// input positions) must be retried.
		markRejected(outcomes, sorted, batch, out.RejectedLogEventsInfo)
		f.stats.SetLastError(fmt.Errorf("log events rejected by CloudWatch Logs"))
	}
	return outcomes, nil
}

func markRejected(outcomes []facade.Outcome, sorted, original []message.Message, info *cloudwatchlogs.RejectedLogEventsInfo) {
	rejectedIdx := map[int]bool{}
	if info.TooOldLogEventEndIndex != nil {
		rejectedIdx[int(*info.TooOldLogEventEndIndex)] = true
	}
	if info.TooNewLogEventStartIndex != nil {
		rejectedIdx[int(*info.TooNewLogEventStartIndex)] = true
	}
	if info.ExpiredLogEventEndIndex != nil {
		rejectedIdx[int(*info.ExpiredLogEventEndIndex)] = true
	}
	for sortedIdx := range rejectedIdx {
		if sortedIdx < 0 || sortedIdx >= len(sorted) {
			continue
		}
		for origIdx, m := range original {
			if m == sorted[sortedIdx] {
				outcomes[origIdx] = facade.Retry
				break
			}
		}
	}
}

func (f *Facade) putLogEvents(batch []message.Message, token string) (*cloudwatchlogs.PutLogEventsOutput, error) {
	events := make([]*cloudwatchlogs.InputLogEvent, len(batch))
	for i, m := range batch {
		events[i] = &cloudwatchlogs.InputLogEvent{
			Message:   aws.String(m.Text()),
			Timestamp: aws.Int64(m.Timestamp()),
		}
	}
	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(f.cfg.LogGroupName),
		LogStreamName: aws.String(f.cfg.LogStreamName),
		LogEvents:     events,
	}
	if token != "" {
		input.SequenceToken = aws.String(token)
	}
	return f.client.PutLogEvents(input)
}

func stableSortByTimestamp(batch []message.Message) []message.Message {
	sorted := make([]message.Message, len(batch))
	copy(sorted, batch)
	// insertion sort: stable, and batches are bounded (<=10,000) so O(n^2)
	// worst case is acceptable and keeps the comparator trivial to audit.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Timestamp() < sorted[j-1].Timestamp(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted
}

// Rotate re-resolves the log stream name via subst and re-initializes.
func (f *Facade) Rotate(ctx context.Context, subst facade.Substitutions) error {
	now := time.Now()
	f.cfg.LogStreamName = subst.Expand(f.logStreamPattern, now)
	f.cacheKey = f.cfg.LogGroupName + "/" + f.cfg.LogStreamName
	return f.InitializeDestination(ctx)
}

// Shutdown releases resources. The AWS SDK client has none beyond GC, so
// this is a no-op kept for contract symmetry with the other variants.
func (f *Facade) Shutdown() {}

// classify maps an AWS SDK error into the facade error taxonomy of
// §4.5/§7.
func classify(err error) facade.ErrorKind {
	if fe, ok := err.(*facade.Error); ok {
		return fe.Kind
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return facade.Unexpected
	}
	switch aerr.Code() {
	case cloudwatchlogs.ErrCodeThrottlingException, "Throttling":
		return facade.Throttling
	case cloudwatchlogs.ErrCodeServiceUnavailableException:
		return facade.Aborted
	case cloudwatchlogs.ErrCodeResourceNotFoundException:
		return facade.MissingResource
	case cloudwatchlogs.ErrCodeResourceAlreadyExistsException:
		return facade.AlreadyProcessed
	case cloudwatchlogs.ErrCodeOperationAbortedException:
		return facade.Aborted
	case cloudwatchlogs.ErrCodeInvalidParameterException:
		return facade.InvalidConfiguration
	case cloudwatchlogs.ErrCodeInvalidSequenceTokenException:
		return facade.InvalidSequenceToken
	case cloudwatchlogs.ErrCodeDataAlreadyAcceptedException:
		return facade.AlreadyProcessed
	default:
		return facade.Unexpected
	}
}
