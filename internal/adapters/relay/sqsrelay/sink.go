package sqsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"medical-records-access/internal/fanout"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SendAPI es el subset de *sqs.Client que usa el sink.
type SendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Sink publica los eventos en una cola SQS. Si la cola es FIFO se usa el
// entity id como MessageGroupId para conservar el orden por request/grant.
type Sink struct {
	client   SendAPI
	queueURL string
	fifo     bool
}

func New(client SendAPI, queueURL string) (*Sink, error) {
	queueURL = strings.TrimSpace(queueURL)
	if client == nil || queueURL == "" {
		return nil, errors.New("sqs relay: client and queue url required")
	}
	return &Sink{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}, nil
}

// NewFromEnv arma el cliente con la cadena default de credenciales de AWS.
func NewFromEnv(ctx context.Context, queueURL string) (*Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return New(sqs.NewFromConfig(cfg), queueURL)
}

func (s *Sink) Name() string { return "sqs" }

func (s *Sink) Deliver(ctx context.Context, ev fanout.Event) error {
	in, err := s.toInput(ev)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, in)
	return err
}

func (s *Sink) toInput(ev fanout.Event) (*sqs.SendMessageInput, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Kind))},
		},
	}
	if s.fifo {
		in.MessageGroupId = aws.String(ev.EntityID)
		in.MessageDeduplicationId = aws.String(dedupID(ev))
	}
	return in, nil
}

func dedupID(ev fanout.Event) string {
	return string(ev.Kind) + ":" + ev.EntityID + ":" + ev.Payload.Status + ":" + ev.EmittedAt.UTC().Format("20060102T150405.000000000")
}
