package quarantine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/source"
)

// maxInlineBody keeps the envelope below the 256 KiB SQS message limit.
const maxInlineBody = 200 * 1024

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Envelope is the JSON message body sent to the dead-letter queue.
type Envelope struct {
	Key       string `json:"key"`
	ETag      string `json:"etag,omitempty"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Body      string `json:"body"`
	Encoding  string `json:"encoding"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SQSQuarantine sends rejected requests to a dead-letter queue.
type SQSQuarantine struct {
	client      sqsAPI
	queueURL    string
	queueURLPtr *string
}

func NewSQSQuarantine(client sqsAPI, queueURL string) *SQSQuarantine {
	if client == nil {
		panic("sqs client is required")
	}
	if strings.TrimSpace(queueURL) == "" {
		panic("queue url is required")
	}
	q := &SQSQuarantine{client: client, queueURL: queueURL}
	q.queueURLPtr = &q.queueURL
	return q
}

func (q *SQSQuarantine) Quarantine(ctx context.Context, req source.Request, reason error) error {
	text, kind := reasonText(reason)

	env := Envelope{Key: req.Key, ETag: req.ETag, Kind: kind, Reason: text, Encoding: "raw", Truncated: req.Truncated}
	body := req.Body
	if len(body) > maxInlineBody {
		body = body[:maxInlineBody]
		env.Truncated = true
	}
	if utf8.Valid(body) {
		env.Body = string(body)
	} else {
		env.Body = base64.StdEncoding.EncodeToString(body)
		env.Encoding = "base64"
	}

	msg, err := json.Marshal(env)
	if err != nil {
		return failure.New(failure.Malformed, "quarantine message", req.Key, err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    q.queueURLPtr,
		MessageBody: aws.String(string(msg)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"RequestKey": {DataType: aws.String("String"), StringValue: aws.String(req.Key)},
			"Kind":       {DataType: aws.String("String"), StringValue: aws.String(kind)},
		},
	})
	if err != nil {
		return failure.Classify("quarantine message", req.Key, err)
	}
	return nil
}
