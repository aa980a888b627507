package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQSAPI struct {
	mu sync.Mutex

	recvOut *sqs.ReceiveMessageOutput
	recvErr error
	recvIn  *sqs.ReceiveMessageInput

	delErr        error
	delFail       bool
	delCalls      int
	delBatchSizes []int
	deletedIDs    []string
}

func (f *fakeSQSAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recvIn = in
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if f.recvOut == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return f.recvOut, nil
}

func (f *fakeSQSAPI) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delCalls++
	f.delBatchSizes = append(f.delBatchSizes, len(in.Entries))
	for _, e := range in.Entries {
		f.deletedIDs = append(f.deletedIDs, aws.ToString(e.Id))
	}

	if f.delErr != nil {
		return nil, f.delErr
	}
	out := &sqs.DeleteMessageBatchOutput{}
	if f.delFail && len(in.Entries) > 0 {
		out.Failed = []sqstypes.BatchResultErrorEntry{
			{
				Id:      in.Entries[0].Id,
				Code:    aws.String("InternalError"),
				Message: aws.String("boom"),
			},
		}
	}
	return out, nil
}

func sqsMsg(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func TestSQS_ReceiveBatch_MapsMessages(t *testing.T) {
	f := &fakeSQSAPI{recvOut: &sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			sqsMsg("m1", `{"log_source_name":"a","time":"t"}`),
			sqsMsg("m2", `{"log_source_name":"b","time":"t"}`),
		},
	}}
	s := NewSQS(f, "https://sqs/q", DefaultSQSConfig)

	b, err := s.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(b.Messages) != 2 {
		t.Fatalf("messages=%d want=2", len(b.Messages))
	}
	if b.Messages[0].ID != "m1" || b.Messages[1].ID != "m2" {
		t.Fatalf("ids: %+v", b.Messages)
	}
	if b.Messages[0].Body != `{"log_source_name":"a","time":"t"}` {
		t.Fatalf("body: %q", b.Messages[0].Body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(f.recvIn.QueueUrl) != "https://sqs/q" {
		t.Fatalf("queue url: %q", aws.ToString(f.recvIn.QueueUrl))
	}
	if f.recvIn.MaxNumberOfMessages != DefaultSQSConfig.MaxMessages {
		t.Fatalf("max messages: %d", f.recvIn.MaxNumberOfMessages)
	}
}

func TestSQS_ReceiveBatch_SkipsUntrackableMessages(t *testing.T) {
	f := &fakeSQSAPI{recvOut: &sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{Body: aws.String("no id")},
			{MessageId: aws.String("m1"), Body: aws.String("no handle")},
			sqsMsg("m2", "ok"),
		},
	}}
	s := NewSQS(f, "q", DefaultSQSConfig)

	b, err := s.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(b.Messages) != 1 || b.Messages[0].ID != "m2" {
		t.Fatalf("messages: %+v", b.Messages)
	}
}

func TestSQS_ReceiveBatch_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	s := NewSQS(&fakeSQSAPI{recvErr: boom}, "q", DefaultSQSConfig)
	if _, err := s.ReceiveBatch(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestSQS_AckExcept_DeletesOnlyNonFailed(t *testing.T) {
	f := &fakeSQSAPI{recvOut: &sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			sqsMsg("m1", "a"),
			sqsMsg("m2", "b"),
			sqsMsg("m3", "c"),
		},
	}}
	s := NewSQS(f, "q", DefaultSQSConfig)

	b, err := s.ReceiveBatch(context.Background())
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if err := s.AckExcept(context.Background(), b, []string{"m2"}); err != nil {
		t.Fatalf("AckExcept: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sort.Strings(f.deletedIDs)
	if len(f.deletedIDs) != 2 || f.deletedIDs[0] != "m1" || f.deletedIDs[1] != "m3" {
		t.Fatalf("deleted: %v", f.deletedIDs)
	}
}

func TestSQS_AckExcept_AllFailedDeletesNothing(t *testing.T) {
	f := &fakeSQSAPI{recvOut: &sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{sqsMsg("m1", "a"), sqsMsg("m2", "b")},
	}}
	s := NewSQS(f, "q", DefaultSQSConfig)

	b, _ := s.ReceiveBatch(context.Background())
	if err := s.AckExcept(context.Background(), b, []string{"m1", "m2"}); err != nil {
		t.Fatalf("AckExcept: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delCalls != 0 {
		t.Fatalf("delCalls=%d want=0", f.delCalls)
	}
}

func TestSQS_AckExcept_ChunksDeletesByTen(t *testing.T) {
	msgs := make([]sqstypes.Message, 0, 23)
	for i := 0; i < 23; i++ {
		msgs = append(msgs, sqsMsg(fmt.Sprintf("m%02d", i), "x"))
	}
	f := &fakeSQSAPI{recvOut: &sqs.ReceiveMessageOutput{Messages: msgs}}

	// MaxMessages only bounds what SQS returns per call; AckExcept must
	// still chunk whatever batch it is handed.
	s := NewSQS(f, "q", DefaultSQSConfig)
	b, _ := s.ReceiveBatch(context.Background())

	if err := s.AckExcept(context.Background(), b, nil); err != nil {
		t.Fatalf("AckExcept: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delCalls != 3 {
		t.Fatalf("delCalls=%d want=3 (%v)", f.delCalls, f.delBatchSizes)
	}
	if f.delBatchSizes[0] != 10 || f.delBatchSizes[1] != 10 || f.delBatchSizes[2] != 3 {
		t.Fatalf("batch sizes: %v", f.delBatchSizes)
	}
	if len(f.deletedIDs) != 23 {
		t.Fatalf("deleted=%d want=23", len(f.deletedIDs))
	}
}

func TestSQS_AckExcept_SurfacesPartialDeleteFailure(t *testing.T) {
	f := &fakeSQSAPI{
		recvOut: &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{sqsMsg("m1", "a")}},
		delFail: true,
	}
	s := NewSQS(f, "q", DefaultSQSConfig)
	b, _ := s.ReceiveBatch(context.Background())

	if err := s.AckExcept(context.Background(), b, nil); err == nil {
		t.Fatalf("expected error for failed delete entry")
	}
}

func TestSQS_AckExcept_EmptyBatchIsNoOp(t *testing.T) {
	f := &fakeSQSAPI{}
	s := NewSQS(f, "q", DefaultSQSConfig)

	if err := s.AckExcept(context.Background(), nil, nil); err != nil {
		t.Fatalf("AckExcept: %v", err)
	}
	if err := s.AckExcept(context.Background(), &Batch{}, nil); err != nil {
		t.Fatalf("AckExcept: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delCalls != 0 {
		t.Fatalf("delCalls=%d want=0", f.delCalls)
	}
}

func TestNewSQS_ValidatesConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewSQS(&fakeSQSAPI{}, "q", SQSConfig{WaitTimeSeconds: 99, MaxMessages: 10})
}
