package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"stock-lstm-research/internal/train"
)

// SendMessageAPI is the slice of the SQS client the publisher uses.
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EpochReport is the message body published after every epoch.
type EpochReport struct {
	Task       string             `json:"task"`
	Run        string             `json:"run"`
	Epoch      int                `json:"epoch"`
	Logs       map[string]float64 `json:"logs"`
	RecordedAt time.Time          `json:"recorded_at"`
}

func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// EpochPublisher sends an EpochReport to a FIFO queue at the end of each
// epoch. Send failures are logged and training continues.
type EpochPublisher struct {
	Client   SendMessageAPI
	QueueURL string
	Task     string
	Run      string
	Logger   *slog.Logger
}

func NewEpochPublisher(client SendMessageAPI, queueURL, task string, logger *slog.Logger) *EpochPublisher {
	return &EpochPublisher{
		Client:   client,
		QueueURL: queueURL,
		Task:     task,
		Run:      fmt.Sprintf("%s_%d", task, time.Now().UnixNano()),
		Logger:   logger,
	}
}

func (p *EpochPublisher) OnEpochEnd(ctx context.Context, epoch int, logs train.Logs) error {
	report := EpochReport{
		Task:       p.Task,
		Run:        p.Run,
		Epoch:      epoch + 1,
		Logs:       make(map[string]float64, len(logs)),
		RecordedAt: time.Now().UTC(),
	}
	for k, v := range logs {
		// encoding/json rejects NaN and Inf
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			report.Logs[k] = v
		}
	}
	if err := p.Send(ctx, report); err != nil {
		p.Logger.Warn("Epoch report not sent", "epoch", epoch+1, "error", err)
	}
	return nil
}

func (p *EpochPublisher) Send(ctx context.Context, report EpochReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	out, err := p.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.QueueURL),
		MessageBody: aws.String(string(body)),
		// one group per run keeps its epochs in order
		MessageGroupId:         aws.String(report.Run),
		MessageDeduplicationId: aws.String(fmt.Sprintf("%s_e%d", report.Run, report.Epoch)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to FIFO queue: %w", err)
	}
	p.Logger.Debug("Epoch report sent", "message_id", aws.ToString(out.MessageId), "epoch", report.Epoch)
	return nil
}
