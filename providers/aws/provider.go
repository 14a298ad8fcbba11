// Package aws provisions a small set of AWS resources: S3 buckets, DynamoDB
// tables, IAM roles, SQS queues, VPCs and Lambda functions. Credentials and
// region come from the default SDK chain; AWS_REGION overrides the region.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/schema"
)

const defaultRegion = "us-east-1"

type Provider struct {
	s3Client       *s3.Client
	ec2Client      *ec2.Client
	iamClient      *iam.Client
	lambdaClient   *lambda.Client
	dynamodbClient *dynamodb.Client
	sqsClient      *sqs.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "aws"
}

func (p *Provider) ensureClients(ctx context.Context) error {
	if p.s3Client != nil {
		return nil
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.s3Client = s3.NewFromConfig(cfg)
	p.ec2Client = ec2.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.lambdaClient = lambda.NewFromConfig(cfg)
	p.dynamodbClient = dynamodb.NewFromConfig(cfg)
	p.sqsClient = sqs.NewFromConfig(cfg)

	return nil
}

func (p *Provider) Schemas() []schema.KindSchema {
	return []schema.KindSchema{
		bucketSchema(),
		tableSchema(),
		roleSchema(),
		queueSchema(),
		vpcSchema(),
		functionSchema(),
	}
}

func (p *Provider) Create(ctx context.Context, kind string, inputs map[string]any) (string, map[string]any, error) {
	if err := p.ensureClients(ctx); err != nil {
		return "", nil, err
	}

	switch kind {
	case "aws_s3_bucket":
		return p.createBucket(ctx, inputs)
	case "aws_dynamodb_table":
		return p.createTable(ctx, inputs)
	case "aws_iam_role":
		return p.createRole(ctx, inputs)
	case "aws_sqs_queue":
		return p.createQueue(ctx, inputs)
	case "aws_vpc":
		return p.createVpc(ctx, inputs)
	case "aws_lambda_function":
		return p.createFunction(ctx, inputs)
	}
	return "", nil, fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) Update(ctx context.Context, kind, id string, oldInputs, newInputs map[string]any) (map[string]any, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch kind {
	case "aws_s3_bucket":
		return p.updateBucket(ctx, id, newInputs)
	case "aws_dynamodb_table":
		return p.updateTable(ctx, id, oldInputs, newInputs)
	case "aws_iam_role":
		return p.updateRole(ctx, id, newInputs)
	case "aws_sqs_queue":
		return p.updateQueue(ctx, id, newInputs)
	case "aws_vpc":
		return p.updateVpc(ctx, id, newInputs)
	case "aws_lambda_function":
		return p.updateFunction(ctx, id, oldInputs, newInputs)
	}
	return nil, fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) Destroy(ctx context.Context, kind, id string) error {
	if err := p.ensureClients(ctx); err != nil {
		return err
	}

	switch kind {
	case "aws_s3_bucket":
		return p.destroyBucket(ctx, id)
	case "aws_dynamodb_table":
		return p.destroyTable(ctx, id)
	case "aws_iam_role":
		return p.destroyRole(ctx, id)
	case "aws_sqs_queue":
		return p.destroyQueue(ctx, id)
	case "aws_vpc":
		return p.destroyVpc(ctx, id)
	case "aws_lambda_function":
		return p.destroyFunction(ctx, id)
	}
	return fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) Read(ctx context.Context, kind, id string, inputs map[string]any) (map[string]any, bool, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, false, err
	}

	switch kind {
	case "aws_s3_bucket":
		return p.readBucket(ctx, id)
	case "aws_dynamodb_table":
		return p.readTable(ctx, id)
	case "aws_iam_role":
		return p.readRole(ctx, id)
	case "aws_sqs_queue":
		return p.readQueue(ctx, id, inputs)
	case "aws_vpc":
		return p.readVpc(ctx, id)
	case "aws_lambda_function":
		return p.readFunction(ctx, id)
	}
	return nil, false, fmt.Errorf("unknown resource kind: %s", kind)
}

// isAPIError reports whether err is an AWS API error with one of the given
// error codes.
func isAPIError(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	return slices.Contains(codes, ae.ErrorCode())
}

// decodeInputs maps the engine's loosely typed attribute map onto a typed
// config struct through a JSON round trip.
func decodeInputs(inputs map[string]any, into any) error {
	data, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode inputs: %w", err)
	}
	return nil
}
