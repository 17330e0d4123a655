// Command appender-demo wires one Writer per ServiceFacade variant, the
// way an appender shell would: it constructs the AWS SDK clients, builds
// a facade against each, and drives Writer.Enqueue from a few sample log
// lines. It is a thin illustration of the construction pattern, not a
// deployable service.
package main

import (
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/sns"
	"golang.org/x/time/rate"

	"github.com/Clever/log-writer-core/facade"
	cwlfacade "github.com/Clever/log-writer-core/facade/cloudwatchlogs"
	kinesisfacade "github.com/Clever/log-writer-core/facade/kinesis"
	snsfacade "github.com/Clever/log-writer-core/facade/sns"
	"github.com/Clever/log-writer-core/message"
	"github.com/Clever/log-writer-core/stats"
	"github.com/Clever/log-writer-core/writer"
)

func main() {
	region := getEnv("AWS_REGION")
	sess := session.Must(session.NewSession(aws.NewConfig().WithRegion(region).WithMaxRetries(4)))

	logger := facade.NewKayveeLogger("log-writer-core/appender-demo")
	registry := stats.NewRegistry()

	logsFacade, err := cwlfacade.New(
		cloudwatchlogs.New(sess),
		cwlfacade.Config{LogGroupName: getEnv("LOG_GROUP_NAME"), LogStreamName: getEnv("LOG_STREAM_NAME")},
		logger,
		registry.Register("cloudwatch-logs", stats.New()),
	)
	mustNoError(err, logger)

	kinesisFacade, err := kinesisfacade.New(
		kinesis.New(sess),
		kinesisfacade.Config{StreamName: getEnv("KINESIS_STREAM_NAME"), RandomPartitionKey: true, AutoCreate: false},
		logger,
		registry.Register("kinesis", stats.New()),
	)
	mustNoError(err, logger)

	snsFacade, err := snsfacade.New(
		sns.New(sess),
		snsfacade.Config{TopicArn: getEnv("SNS_TOPIC_ARN")},
		logger,
		registry.Register("sns", stats.New()),
	)
	mustNoError(err, logger)

	limiter := rate.NewLimiter(rate.Limit(50), 50)
	writers := []*writer.Writer{
		writer.New(logsFacade, writer.Config{Name: "cloudwatch-logs", BatchDelay: 2 * time.Second, DiscardThreshold: 10000, RateLimiter: limiter, UseShutdownHook: true}, nil),
		writer.New(kinesisFacade, writer.Config{Name: "kinesis", BatchDelay: 2 * time.Second, DiscardThreshold: 10000, RateLimiter: limiter, UseShutdownHook: true}, nil),
		writer.New(snsFacade, writer.Config{Name: "sns", BatchDelay: 0, DiscardThreshold: 1000, UseShutdownHook: true}, nil),
	}

	for _, w := range writers {
		w.Start()
	}

	for i := 0; i < 3; i++ {
		line := message.New(time.Now().UnixMilli(), "appender-demo sample log line")
		for _, w := range writers {
			w.Enqueue(line)
		}
	}

	for _, w := range writers {
		w.Stop()
		w.Wait()
	}
}

func mustNoError(err error, logger facade.InternalLogger) {
	if err != nil {
		logger.Error("failed to construct facade", err)
		log.Fatal(err)
	}
}

func getEnv(envVar string) string {
	val := os.Getenv(envVar)
	if val == "" {
		log.Fatalf("must specify env variable %s", envVar)
	}
	return val
}
