// Package sns implements the topic pub/sub ServiceFacade variant of §4.5
// (Variant C): one Publish call per message, batchCount always 1, larger
// batches looped internally by Send.
package sns

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/retry"
	"github.com/Clever/log-writer-core/stats"
)

// Limits are the Variant C constants from §3: one message per publish, no
// aggregate batch-byte ceiling, 262,144 bytes per message.
var Limits = facade.Limits{
	MaxBatchBytes:   262144,
	MaxBatchCount:   1,
	MaxMessageBytes: 262144,
}

var topicNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// client is the minimal slice of snsiface.SNSAPI this facade needs.
type client interface {
	Publish(*sns.PublishInput) (*sns.PublishOutput, error)
	CreateTopic(*sns.CreateTopicInput) (*sns.CreateTopicOutput, error)
	GetTopicAttributes(*sns.GetTopicAttributesInput) (*sns.GetTopicAttributesOutput, error)
}

// Config is the Variant C configuration of §4.5. Exactly one of
// TopicName/TopicArn must be set.
type Config struct {
	TopicName  string
	TopicArn   string
	Subject    string
	AutoCreate bool
}

// Facade implements facade.Facade against AWS SNS. It also satisfies
// facade.Rotatable, but its Rotate is a no-op for the topic variant (§4.4).
type Facade struct {
	client client
	cfg    Config
	logger facade.InternalLogger
	stats  *stats.Statistics

	resolvedArn   string
	everAutoCreated bool
}

// New constructs a Facade.
func New(c client, cfg Config, logger facade.InternalLogger, statistics *stats.Statistics) (*Facade, error) {
	hasName := cfg.TopicName != ""
	hasArn := cfg.TopicArn != ""
	if hasName == hasArn {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("exactly one of TopicName or TopicArn must be set")}
	}
	if hasName && !topicNameRe.MatchString(cfg.TopicName) {
		return nil, &facade.Error{Kind: facade.InvalidConfiguration, Cause: fmt.Errorf("invalid topic name %q", cfg.TopicName)}
	}
	if logger == nil {
		logger = facade.NoopLogger{}
	}
	return &Facade{client: c, cfg: cfg, logger: logger, stats: statistics, resolvedArn: cfg.TopicArn}, nil
}

func (f *Facade) Limits() facade.Limits { return Limits }

// InitializeDestination resolves TopicName to an ARN through CreateTopic,
// which returns the ARN of an existing topic or creates a missing one, or
// validates that TopicArn exists. The TopicName path calls CreateTopic
// whether or not AutoCreate is set, so it never reports a missing topic.
func (f *Facade) InitializeDestination(ctx context.Context) error {
	if f.cfg.TopicArn != "" {
		_, err := f.client.GetTopicAttributes(&sns.GetTopicAttributesInput{TopicArn: aws.String(f.cfg.TopicArn)})
		if err != nil {
			kind := classify(err)
			wrapped := &facade.Error{Kind: kind, Cause: err}
			f.stats.SetLastError(wrapped)
			f.logger.Error("configured topic ARN does not exist", err)
			return wrapped
		}
		f.resolvedArn = f.cfg.TopicArn
		f.stats.SetActualTopicArn(f.resolvedArn)
		return nil
	}

	deadline := time.Now().Add(facade.InitializationDeadline)
	mgr := retry.New(time.Second, retry.Exponential, false)

	arn, _, err := retry.Invoke(ctx, mgr, deadline, func(attempt int) (string, bool, error) {
		out, createErr := f.client.CreateTopic(&sns.CreateTopicInput{Name: aws.String(f.cfg.TopicName)})
		if createErr != nil {
			kind := classify(createErr)
			if kind == facade.Throttling {
				f.logger.Warn("throttled while creating topic")
				return "", false, nil
			}
			return "", false, &facade.Error{Kind: kind, Cause: createErr}
		}
		return aws.StringValue(out.TopicArn), true, nil
	}, nil)

	if err != nil {
		f.stats.SetLastError(err)
		f.logger.Error("failed to initialize SNS destination", err)
		return err
	}

	f.resolvedArn = arn
	f.everAutoCreated = true
	f.stats.SetActualTopicArn(f.resolvedArn)
	return nil
}

// Send publishes each message individually (batchCount is always 1 for
// this variant); Batcher already enforces MaxBatchCount=1, but Send loops
// internally to honor the contract even if called with more.
func (f *Facade) Send(ctx context.Context, batch []message.Message) ([]facade.Outcome, error) {
	outcomes := make([]facade.Outcome, len(batch))
	for i, m := range batch {
		outcomes[i] = f.publishOne(m)
	}
	return outcomes, nil
}

func (f *Facade) publishOne(m message.Message) facade.Outcome {
	if f.resolvedArn == "" {
		if f.everAutoCreated {
			return facade.Retry
		}
		f.stats.SetLastError(&facade.Error{Kind: facade.MissingResource, Cause: fmt.Errorf("no topic resolved")})
		return facade.Fail
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(f.resolvedArn),
		Message:  aws.String(m.Text()),
	}
	if f.cfg.Subject != "" {
		input.Subject = aws.String(f.cfg.Subject)
	}

	_, err := f.client.Publish(input)
	if err == nil {
		return facade.Sent
	}

	kind := classify(err)
	f.stats.SetLastError(&facade.Error{Kind: kind, Cause: err})
	switch kind {
	case facade.MissingResource:
		// Open Question (§9): autoCreate succeeded previously but the
		// topic was deleted out of band. Fail this batch and reset the
		// cached ARN; later sends return Retry until InitializeDestination
		// resolves the topic again.
		f.resolvedArn = ""
		return facade.Fail
	case facade.InvalidConfiguration:
		return facade.Fail
	default:
		return facade.Retry
	}
}

// Rotate is a no-op for the topic variant (§4.4: "no-op for topic facade").
func (f *Facade) Rotate(ctx context.Context, subst facade.Substitutions) error {
	return nil
}

// Shutdown releases resources. No-op; kept for contract symmetry.
func (f *Facade) Shutdown() {}

func classify(err error) facade.ErrorKind {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return facade.Unexpected
	}
	switch aerr.Code() {
	case sns.ErrCodeThrottledException:
		return facade.Throttling
	case sns.ErrCodeNotFoundException:
		return facade.MissingResource
	case sns.ErrCodeInvalidParameterException, sns.ErrCodeInvalidParameterValueException:
		return facade.InvalidConfiguration
	case sns.ErrCodeAuthorizationErrorException:
		return facade.InvalidConfiguration
	case sns.ErrCodeInternalErrorException:
		return facade.Aborted
	default:
		return facade.Unexpected
	}
}
