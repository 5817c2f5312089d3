package queue

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// EmbedRequest is a queued embedding acquisition. Backfill workers
// drain these and warm the cache through the same acquire path the API
// serves synchronously.
type EmbedRequest struct {
	RequestID  string    `json:"request_id"`
	Text       string    `json:"text"`
	Force      bool      `json:"force,omitempty"`
	Source     string    `json:"source,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSClient struct {
	Client   SQSAPI
	QueueURL string
}

// NewSQSClient builds a client from the ambient AWS configuration. An
// empty queueURL falls back to the SQS_QUEUE_URL environment variable.
func NewSQSClient(ctx context.Context, queueURL string) (*SQSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	if queueURL == "" {
		queueURL = os.Getenv("SQS_QUEUE_URL")
	}
	client := sqs.NewFromConfig(cfg)
	return &SQSClient{Client: client, QueueURL: queueURL}, nil
}

// NewSQSClientWithAPI allows injecting a custom SQSAPI (for testing)
func NewSQSClientWithAPI(api SQSAPI, queueURL string) *SQSClient {
	return &SQSClient{Client: api, QueueURL: queueURL}
}

// Enqueue publishes a request, stamping a request id and enqueue time
// when the caller left them empty.
func (q *SQSClient) Enqueue(ctx context.Context, req EmbedRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// Receive long-polls for up to maxMessages requests. Returned receipt
// handles parallel the requests; a handle must be passed back to
// DeleteMessage once its request is processed. Messages whose bodies do
// not decode are dropped.
func (q *SQSClient) Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]EmbedRequest, []string, error) {
	resp, err := q.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.QueueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, nil, err
	}
	var requests []EmbedRequest
	var receiptHandles []string
	for _, msg := range resp.Messages {
		var req EmbedRequest
		if err := json.Unmarshal([]byte(*msg.Body), &req); err == nil {
			requests = append(requests, req)
			receiptHandles = append(receiptHandles, *msg.ReceiptHandle)
		}
	}
	return requests, receiptHandles, nil
}

func (q *SQSClient) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := q.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
