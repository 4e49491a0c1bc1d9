package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
)

// DefaultWaitTime is the long-poll wait for one SQS receive.
const DefaultWaitTime = time.Second

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue is a Queue backed by an SQS queue URL.
type SQSQueue struct {
	client SQSAPI
	url    string
	wait   time.Duration
}

// NewSQS creates an SQSQueue.
func NewSQS(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, url: queueURL, wait: DefaultWaitTime}
}

// NewSQSClient builds an SQS client, pointing it at endpoint when set.
func NewSQSClient(awsCfg aws.Config, endpoint *string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// Send implements Queue.
func (q *SQSQueue) Send(ctx context.Context, msg model.QueueMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"batch_id": {DataType: aws.String("String"), StringValue: aws.String(msg.BatchID)},
		},
	})
	return eris.Wrapf(err, "queue: sqs send batch %s", msg.BatchID)
}

// Receive implements Queue.
func (q *SQSQueue) Receive(ctx context.Context, lease time.Duration) (*Delivery, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   int32(max(lease/time.Second, 1)),
		WaitTimeSeconds:     int32(q.wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "queue: sqs receive")
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	id := aws.ToString(m.MessageId)
	msg, err := decode([]byte(aws.ToString(m.Body)))
	if err != nil {
		zap.L().Error("queue: dropping undecodable message", zap.String("message_id", id), zap.Error(err))
		if _, delErr := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.url),
			ReceiptHandle: m.ReceiptHandle,
		}); delErr != nil {
			zap.L().Error("queue: drop message", zap.String("message_id", id), zap.Error(delErr))
		}
		return nil, err
	}

	receives, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	return &Delivery{
		ID:           id,
		Receipt:      aws.ToString(m.ReceiptHandle),
		ReceiveCount: receives,
		Message:      msg,
	}, nil
}

// Delete implements Queue.
func (q *SQSQueue) Delete(ctx context.Context, d *Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(d.Receipt),
	})
	return eris.Wrapf(err, "queue: sqs delete %s", d.ID)
}

// Backlog implements Queue.
func (q *SQSQueue) Backlog(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, eris.Wrap(err, "queue: sqs backlog")
	}
	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "queue: sqs backlog: bad count %q", raw)
	}
	return n, nil
}
