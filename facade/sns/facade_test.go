package sns

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/stretchr/testify/assert"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/stats"
)

type fakeClient struct {
	publishFn           func(*sns.PublishInput) (*sns.PublishOutput, error)
	createTopicArn      string
	createTopicErr      error
	getTopicAttrsErr    error
	createTopicCalls    int
}

func (f *fakeClient) Publish(in *sns.PublishInput) (*sns.PublishOutput, error) {
	return f.publishFn(in)
}
func (f *fakeClient) CreateTopic(*sns.CreateTopicInput) (*sns.CreateTopicOutput, error) {
	f.createTopicCalls++
	if f.createTopicErr != nil {
		return nil, f.createTopicErr
	}
	return &sns.CreateTopicOutput{TopicArn: aws.String(f.createTopicArn)}, nil
}
func (f *fakeClient) GetTopicAttributes(*sns.GetTopicAttributesInput) (*sns.GetTopicAttributesOutput, error) {
	if f.getTopicAttrsErr != nil {
		return nil, f.getTopicAttrsErr
	}
	return &sns.GetTopicAttributesOutput{}, nil
}

func TestExactlyOneOfNameOrArnRequired(t *testing.T) {
	_, err := New(&fakeClient{}, Config{}, nil, stats.New())
	assert.Error(t, err)

	_, err = New(&fakeClient{}, Config{TopicName: "n", TopicArn: "a"}, nil, stats.New())
	assert.Error(t, err)
}

func TestInvalidTopicNameRejected(t *testing.T) {
	_, err := New(&fakeClient{}, Config{TopicName: "bad name!"}, nil, stats.New())
	assert.Error(t, err)
}

func TestInitializeDestinationByArnValidatesExistence(t *testing.T) {
	c := &fakeClient{}
	f, err := New(c, Config{TopicArn: "arn:aws:sns:us-east-1:1:my-topic"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	err = f.InitializeDestination(context.Background())
	assert.NoError(t, err)
}

func TestInitializeDestinationByArnFailsWhenMissing(t *testing.T) {
	c := &fakeClient{getTopicAttrsErr: awserr.New(sns.ErrCodeNotFoundException, "no such topic", nil)}
	f, err := New(c, Config{TopicArn: "arn:aws:sns:us-east-1:1:gone"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	err = f.InitializeDestination(context.Background())
	assert.Error(t, err)
	var fe *facade.Error
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, facade.MissingResource, fe.Kind)
}

func TestInitializeDestinationAutoCreatesByName(t *testing.T) {
	c := &fakeClient{createTopicArn: "arn:aws:sns:us-east-1:1:created-topic"}
	f, err := New(c, Config{TopicName: "created-topic", AutoCreate: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	err = f.InitializeDestination(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:1:created-topic", f.resolvedArn)
	assert.True(t, f.everAutoCreated)
	assert.Equal(t, 1, c.createTopicCalls)
}

func TestSendPublishesOnePerMessage(t *testing.T) {
	var published []string
	c := &fakeClient{
		createTopicArn: "arn:aws:sns:us-east-1:1:t",
		publishFn: func(in *sns.PublishInput) (*sns.PublishOutput, error) {
			published = append(published, aws.StringValue(in.Message))
			return &sns.PublishOutput{MessageId: aws.String("1")}, nil
		},
	}
	f, err := New(c, Config{TopicName: "t", AutoCreate: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	assert.NoError(t, f.InitializeDestination(context.Background()))

	batch := []message.Message{message.New(1, "a"), message.New(2, "b"), message.New(3, "c")}
	outcomes, err := f.Send(context.Background(), batch)
	assert.NoError(t, err)
	assert.Equal(t, []facade.Outcome{facade.Sent, facade.Sent, facade.Sent}, outcomes)
	assert.Equal(t, []string{"a", "b", "c"}, published)
}

func TestSendMissingTopicFailsWhenNeverAutoCreated(t *testing.T) {
	c := &fakeClient{}
	f, err := New(c, Config{TopicArn: "arn:aws:sns:us-east-1:1:t"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	f.resolvedArn = ""

	outcomes, err := f.Send(context.Background(), []message.Message{message.New(1, "a")})
	assert.NoError(t, err)
	assert.Equal(t, []facade.Outcome{facade.Fail}, outcomes)
}

func TestSendMissingTopicRetriesWhenPreviouslyAutoCreated(t *testing.T) {
	c := &fakeClient{}
	f, err := New(c, Config{TopicName: "t", AutoCreate: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	f.everAutoCreated = true
	f.resolvedArn = ""

	outcomes, err := f.Send(context.Background(), []message.Message{message.New(1, "a")})
	assert.NoError(t, err)
	assert.Equal(t, []facade.Outcome{facade.Retry}, outcomes)
}

func TestSendTopicDeletedOutOfBandResetsArnAndFails(t *testing.T) {
	c := &fakeClient{
		createTopicArn: "arn:aws:sns:us-east-1:1:t",
		publishFn: func(*sns.PublishInput) (*sns.PublishOutput, error) {
			return nil, awserr.New(sns.ErrCodeNotFoundException, "deleted", nil)
		},
	}
	f, err := New(c, Config{TopicName: "t", AutoCreate: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	assert.NoError(t, f.InitializeDestination(context.Background()))

	outcomes, err := f.Send(context.Background(), []message.Message{message.New(1, "a")})
	assert.NoError(t, err)
	assert.Equal(t, []facade.Outcome{facade.Fail}, outcomes)
	assert.Equal(t, "", f.resolvedArn)
}

func TestRotateIsNoop(t *testing.T) {
	c := &fakeClient{}
	f, err := New(c, Config{TopicArn: "arn:aws:sns:us-east-1:1:t"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	assert.NoError(t, f.Rotate(context.Background(), nil))
}
