package kinesis

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/stretchr/testify/assert"

	"github.com/Clever/log-writer-core/facade"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/stats"
)

type fakeClient struct {
	putRecordsFn           func(*kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error)
	describeStreamSummary  *kinesis.DescribeStreamSummaryOutput
	describeStreamErr      error
	createStreamCalls      int
}

func (f *fakeClient) PutRecords(in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
	return f.putRecordsFn(in)
}
func (f *fakeClient) DescribeStreamSummary(*kinesis.DescribeStreamSummaryInput) (*kinesis.DescribeStreamSummaryOutput, error) {
	return f.describeStreamSummary, f.describeStreamErr
}
func (f *fakeClient) CreateStream(*kinesis.CreateStreamInput) (*kinesis.CreateStreamOutput, error) {
	f.createStreamCalls++
	return &kinesis.CreateStreamOutput{}, nil
}

func activeStream() *kinesis.DescribeStreamSummaryOutput {
	return &kinesis.DescribeStreamSummaryOutput{
		StreamDescriptionSummary: &kinesis.StreamDescriptionSummary{
			StreamStatus: aws.String(kinesis.StreamStatusActive),
		},
	}
}

func TestInvalidStreamNameRejected(t *testing.T) {
	_, err := New(&fakeClient{}, Config{StreamName: "bad name!", PartitionKey: "k"}, nil, stats.New())
	assert.Error(t, err)
}

func TestInvalidPartitionKeyRejectedUnlessRandom(t *testing.T) {
	_, err := New(&fakeClient{}, Config{StreamName: "good-stream", PartitionKey: ""}, nil, stats.New())
	assert.Error(t, err)

	_, err = New(&fakeClient{}, Config{StreamName: "good-stream", RandomPartitionKey: true}, nil, stats.New())
	assert.NoError(t, err)
}

func TestInitializeDestinationWaitsForActive(t *testing.T) {
	c := &fakeClient{describeStreamSummary: activeStream()}
	f, err := New(c, Config{StreamName: "s", PartitionKey: "k"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	err = f.InitializeDestination(context.Background())
	assert.NoError(t, err)
}

func TestSendAllSucceed(t *testing.T) {
	c := &fakeClient{
		putRecordsFn: func(in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			recs := make([]*kinesis.PutRecordsResultEntry, len(in.Records))
			for i := range recs {
				recs[i] = &kinesis.PutRecordsResultEntry{SequenceNumber: aws.String("1")}
			}
			return &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int64(0), Records: recs}, nil
		},
	}
	f, err := New(c, Config{StreamName: "s", PartitionKey: "bargle"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	batch := []message.Message{message.New(1, "a"), message.New(2, "b")}
	outcomes, err := f.Send(context.Background(), batch)
	assert.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, facade.Sent, o)
	}
}

func TestSendPartialFailureMarksRetry(t *testing.T) {
	c := &fakeClient{
		putRecordsFn: func(in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			recs := make([]*kinesis.PutRecordsResultEntry, len(in.Records))
			for i := range recs {
				recs[i] = &kinesis.PutRecordsResultEntry{SequenceNumber: aws.String("1")}
			}
			recs[1].SequenceNumber = nil
			recs[1].ErrorCode = aws.String("ProvisionedThroughputExceededException")
			recs[1].ErrorMessage = aws.String("throttled")
			return &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int64(1), Records: recs}, nil
		},
	}
	f, err := New(c, Config{StreamName: "s", PartitionKey: "bargle"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	batch := []message.Message{message.New(1, "a"), message.New(2, "b"), message.New(3, "c")}
	outcomes, err := f.Send(context.Background(), batch)
	assert.NoError(t, err)
	assert.Equal(t, []facade.Outcome{facade.Sent, facade.Retry, facade.Sent}, outcomes)
}

func TestSendWholeBatchFailureClassified(t *testing.T) {
	c := &fakeClient{
		putRecordsFn: func(in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			return nil, awserr.New(kinesis.ErrCodeProvisionedThroughputExceededException, "throttled", nil)
		},
	}
	f, err := New(c, Config{StreamName: "s", PartitionKey: "bargle"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	batch := []message.Message{message.New(1, "a")}
	outcomes, sendErr := f.Send(context.Background(), batch)
	assert.Nil(t, outcomes)
	assert.Error(t, sendErr)
	var fe *facade.Error
	assert.ErrorAs(t, sendErr, &fe)
	assert.Equal(t, facade.Throttling, fe.Kind)
}

func TestRandomPartitionKeyVariesPerRecord(t *testing.T) {
	var seenKeys []string
	c := &fakeClient{
		putRecordsFn: func(in *kinesis.PutRecordsInput) (*kinesis.PutRecordsOutput, error) {
			for _, r := range in.Records {
				seenKeys = append(seenKeys, *r.PartitionKey)
			}
			recs := make([]*kinesis.PutRecordsResultEntry, len(in.Records))
			for i := range recs {
				recs[i] = &kinesis.PutRecordsResultEntry{SequenceNumber: aws.String("1")}
			}
			return &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int64(0), Records: recs}, nil
		},
	}
	f, err := New(c, Config{StreamName: "s", RandomPartitionKey: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)

	batch := []message.Message{message.New(1, "a"), message.New(2, "b"), message.New(3, "c")}
	_, err = f.Send(context.Background(), batch)
	assert.NoError(t, err)

	assert.Len(t, seenKeys, 3)
	for _, k := range seenKeys {
		assert.Len(t, k, 8)
	}
}

func TestLimitsSubtractsPartitionKeyLength(t *testing.T) {
	f, err := New(&fakeClient{}, Config{StreamName: "s", PartitionKey: "bargle"}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	limits := f.Limits()
	assert.Equal(t, 1048576-6, limits.MaxMessageBytes)
	// PerMessageOverheadBytes must carry the partition-key length into
	// batcher.BuildBatch's byte accounting (§3: batch byte limit is
	// "incl. partition keys").
	assert.Equal(t, 6, limits.PerMessageOverheadBytes)
}

func TestLimitsOverheadMatchesRandomKeyLength(t *testing.T) {
	f, err := New(&fakeClient{}, Config{StreamName: "s", RandomPartitionKey: true}, facade.NoopLogger{}, stats.New())
	assert.NoError(t, err)
	assert.Equal(t, 8, f.Limits().PerMessageOverheadBytes)
}
