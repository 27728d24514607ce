package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-otp-accounts/internal/config"
	"github.com/go-otp-accounts/internal/domain"
	"github.com/go-otp-accounts/internal/infrastructure/dynamo"
)

// publishAPI is the part of *sns.Client the dispatcher uses.
type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Dispatcher publishes OTP delivery requests to an SNS topic; a subscriber
// owns the actual email. It satisfies otp.Dispatcher.
type Dispatcher struct {
	client   publishAPI
	topicARN string
	ttl      time.Duration
}

// codeMessage is the JSON body subscribers receive.
type codeMessage struct {
	Email            string `json:"email"`
	Code             string `json:"code"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

func NewDispatcher(ctx context.Context, cfg *config.Config) (*Dispatcher, error) {
	if cfg.SNSTopicARN == "" {
		return nil, fmt.Errorf("SNS_TOPIC_ARN is required for the sns dispatcher")
	}
	awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		return nil, err
	}
	var opts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return &Dispatcher{
		client:   sns.NewFromConfig(awsCfg, opts...),
		topicARN: cfg.SNSTopicARN,
		ttl:      cfg.OTPTTL,
	}, nil
}

func (d *Dispatcher) SendCode(ctx context.Context, to, code string) domain.DeliveryResult {
	payload, err := json.Marshal(codeMessage{
		Email:            to,
		Code:             code,
		ExpiresInSeconds: int(d.ttl.Seconds()),
	})
	if err != nil {
		return domain.Failed(fmt.Sprintf("encode message: %v", err))
	}
	_, err = d.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(d.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String("otp")},
		},
	})
	if err != nil {
		return domain.Failed(fmt.Sprintf("sns publish: %v", err))
	}
	return domain.Sent()
}
