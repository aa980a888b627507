package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/baldanca/log-puller/worker"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

type SQSConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32
}

func (c *SQSConfig) validate() {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		panic("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		panic("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		panic("visibility timeout must be non-negative")
	}
}

var DefaultSQSConfig = SQSConfig{
	WaitTimeSeconds: 20,
	MaxMessages:     10,
	VisibilityTO:    120,
}

// Batch is one received SQS batch plus the receipt handles needed to settle
// it afterwards.
type Batch struct {
	Messages []worker.Message

	handles map[string]string // message id -> receipt handle
}

// SQS delivers pull-request batches from one queue for standalone (non
// Lambda) deployments. Failed items are simply not deleted; the queue's
// visibility timeout redelivers them.
type SQS struct {
	cfg SQSConfig

	client      sqsAPI
	queueURL    string
	queueURLPtr *string
}

func NewSQS(client sqsAPI, queueURL string, cfg SQSConfig) *SQS {
	if client == nil {
		panic("sqs client is required")
	}
	if queueURL == "" {
		panic("queue url is required")
	}
	cfg.validate()

	s := &SQS{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
	}
	s.queueURLPtr = &s.queueURL
	return s
}

// ReceiveBatch long-polls for one batch. It may return an empty batch when
// the wait time elapses with nothing queued. Messages missing an id or
// receipt handle cannot be tracked through the redelivery report and are
// left untouched for the queue to redeliver.
func (s *SQS) ReceiveBatch(ctx context.Context) (*Batch, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            s.queueURLPtr,
		MaxNumberOfMessages: s.cfg.MaxMessages,
		WaitTimeSeconds:     s.cfg.WaitTimeSeconds,
		VisibilityTimeout:   s.cfg.VisibilityTO,
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", s.queueURL, err)
	}

	b := &Batch{
		Messages: make([]worker.Message, 0, len(out.Messages)),
		handles:  make(map[string]string, len(out.Messages)),
	}
	for i := range out.Messages {
		m := &out.Messages[i]
		id := aws.ToString(m.MessageId)
		rh := aws.ToString(m.ReceiptHandle)
		if id == "" || rh == "" {
			continue
		}
		b.Messages = append(b.Messages, worker.Message{ID: id, Body: aws.ToString(m.Body)})
		b.handles[id] = rh
	}
	return b, nil
}

// AckExcept deletes every message of the batch whose id is not in failedIDs,
// matching the redelivery contract: items absent from the report must not be
// redelivered, items listed must be.
func (s *SQS) AckExcept(ctx context.Context, b *Batch, failedIDs []string) error {
	if b == nil || len(b.Messages) == 0 {
		return nil
	}

	failed := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}

	const max = 10
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, max)
	in := sqs.DeleteMessageBatchInput{QueueUrl: s.queueURLPtr}

	flush := func() error {
		if len(entries) == 0 {
			return nil
		}
		in.Entries = entries
		out, err := s.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
		entries = entries[:0]
		return nil
	}

	for i := range b.Messages {
		m := &b.Messages[i]
		if _, ok := failed[m.ID]; ok {
			continue
		}
		rh := b.handles[m.ID]
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            &m.ID,
			ReceiptHandle: &rh,
		})
		if len(entries) == max {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
