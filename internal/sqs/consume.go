package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ReceiveDeleteAPI is the slice of the SQS client the consumer uses.
type ReceiveDeleteAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ReportHandler processes one epoch report. A returned error leaves the
// message on the queue for redelivery.
type ReportHandler func(ctx context.Context, r EpochReport) error

// ReceiveBackoff is the pause after a failed receive.
var ReceiveBackoff = 5 * time.Second

// ConsumeEpochReports long-polls the queue until ctx is done.
func ConsumeEpochReports(ctx context.Context, client ReceiveDeleteAPI, queueURL string, logger *slog.Logger, handle ReportHandler) error {
	logger.Info("Starting SQS consumer", "queue", queueURL)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := receiveOnce(ctx, client, queueURL, logger, handle); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Warn("Failed to receive messages", "error", err, "retry_in", ReceiveBackoff.String())
			sleep(ctx, ReceiveBackoff)
		}
	}
}

func receiveOnce(ctx context.Context, client ReceiveDeleteAPI, queueURL string, logger *slog.Logger, handle ReportHandler) error {
	output, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return err
	}

	for _, message := range output.Messages {
		var report EpochReport
		if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &report); err != nil {
			logger.Warn("Dropping malformed report", "message_id", aws.ToString(message.MessageId), "error", err)
			if err := deleteMessage(ctx, client, queueURL, message.ReceiptHandle); err != nil {
				logger.Warn("Failed to delete message", "error", err)
			}
			continue
		}
		if err := handle(ctx, report); err != nil {
			logger.Warn("Report handler failed", "run", report.Run, "epoch", report.Epoch, "error", err)
			continue
		}
		if err := deleteMessage(ctx, client, queueURL, message.ReceiptHandle); err != nil {
			logger.Warn("Failed to delete message", "error", err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func deleteMessage(ctx context.Context, client ReceiveDeleteAPI, queueURL string, receipt *string) error {
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
