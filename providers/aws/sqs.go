package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type QueueConfig struct {
	QueueName                     string            `json:"queueName"`
	VisibilityTimeout             int               `json:"visibilityTimeout"`
	MessageRetentionPeriod        int               `json:"messageRetentionPeriod"`
	DelaySeconds                  int               `json:"delaySeconds"`
	ReceiveMessageWaitTimeSeconds int               `json:"receiveMessageWaitTimeSeconds"`
	FifoQueue                     bool              `json:"fifoQueue"`
	ContentBasedDeduplication     bool              `json:"contentBasedDeduplication"`
	RedrivePolicy                 string            `json:"redrivePolicy"`
	Tags                          map[string]string `json:"tags"`
}

func queueSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_sqs_queue",
		Attributes: map[string]schema.AttributeSchema{
			"queueName":                     {Type: schema.TypeString, Required: true, Immutable: true},
			"visibilityTimeout":             {Type: schema.TypeNumber},
			"messageRetentionPeriod":        {Type: schema.TypeNumber},
			"delaySeconds":                  {Type: schema.TypeNumber},
			"receiveMessageWaitTimeSeconds": {Type: schema.TypeNumber},
			"fifoQueue":                     {Type: schema.TypeBool, Immutable: true},
			"contentBasedDeduplication":     {Type: schema.TypeBool},
			"redrivePolicy":                 {Type: schema.TypeString},
			"tags":                          {Type: schema.TypeMap, Immutable: true},
			"id":                            {Type: schema.TypeString, Computed: true},
			"url":                           {Type: schema.TypeString, Computed: true},
			"arn":                           {Type: schema.TypeString, Computed: true},
		},
	}
}

// queueAttributes translates the declared config into SQS attribute strings.
// Zero-valued numbers are left unset so the service defaults apply.
func queueAttributes(desired QueueConfig) map[string]string {
	attrs := make(map[string]string)
	if desired.VisibilityTimeout > 0 {
		attrs["VisibilityTimeout"] = fmt.Sprintf("%d", desired.VisibilityTimeout)
	}
	if desired.MessageRetentionPeriod > 0 {
		attrs["MessageRetentionPeriod"] = fmt.Sprintf("%d", desired.MessageRetentionPeriod)
	}
	if desired.DelaySeconds > 0 {
		attrs["DelaySeconds"] = fmt.Sprintf("%d", desired.DelaySeconds)
	}
	if desired.ReceiveMessageWaitTimeSeconds > 0 {
		attrs["ReceiveMessageWaitTimeSeconds"] = fmt.Sprintf("%d", desired.ReceiveMessageWaitTimeSeconds)
	}
	if desired.ContentBasedDeduplication {
		attrs["ContentBasedDeduplication"] = "true"
	}
	if desired.RedrivePolicy != "" {
		attrs["RedrivePolicy"] = desired.RedrivePolicy
	}
	return attrs
}

func (p *Provider) createQueue(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired QueueConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	attrs := queueAttributes(desired)
	if desired.FifoQueue {
		attrs["FifoQueue"] = "true"
	}

	resp, err := p.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  &desired.QueueName,
		Attributes: attrs,
		Tags:       desired.Tags,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create queue: %w", err)
	}

	url := *resp.QueueUrl
	outputs := map[string]any{
		"id":        url,
		"url":       url,
		"queueName": desired.QueueName,
	}
	if arn, err := p.queueArn(ctx, url); err == nil {
		outputs["arn"] = arn
	}
	return url, outputs, nil
}

func (p *Provider) updateQueue(ctx context.Context, id string, newInputs map[string]any) (map[string]any, error) {
	var desired QueueConfig
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	attrs := queueAttributes(desired)
	if len(attrs) > 0 {
		_, err := p.sqsClient.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
			QueueUrl:   &id,
			Attributes: attrs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update queue attributes: %w", err)
		}
	}

	outputs := map[string]any{
		"id":        id,
		"url":       id,
		"queueName": desired.QueueName,
	}
	if arn, err := p.queueArn(ctx, id); err == nil {
		outputs["arn"] = arn
	}
	return outputs, nil
}

func (p *Provider) destroyQueue(ctx context.Context, id string) error {
	_, err := p.sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: &id,
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	return nil
}

func (p *Provider) readQueue(ctx context.Context, id string, inputs map[string]any) (map[string]any, bool, error) {
	arn, err := p.queueArn(ctx, id)
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read queue: %w", err)
	}

	outputs := map[string]any{
		"id":  id,
		"url": id,
		"arn": arn,
	}
	if name, ok := inputs["queueName"].(string); ok {
		outputs["queueName"] = name
	}
	return outputs, true, nil
}

func (p *Provider) queueArn(ctx context.Context, url string) (string, error) {
	out, err := p.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: &url,
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameQueueArn,
		},
	})
	if err != nil {
		return "", err
	}
	return out.Attributes[string(types.QueueAttributeNameQueueArn)], nil
}
