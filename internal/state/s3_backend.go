package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/terrane-io/terrane/internal/ir"
)

// s3Backend implements Backend for AWS S3 + optional DynamoDB locking.
type s3Backend struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client *s3.Client
	dbClient *dynamodb.Client
}

func newS3Backend(cfg S3Config) (*s3Backend, error) {
	key := cfg.Key
	if key == "" {
		key = "terrane/state.json"
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	b := &s3Backend{
		bucket:        cfg.Bucket,
		key:           key,
		region:        region,
		dynamoDBTable: cfg.DynamoDBTable,
		encrypt:       cfg.Encrypt,
		profile:       cfg.Profile,
	}
	if err := b.initClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return b, nil
}

func (b *s3Backend) initClients() error {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)
	if b.dynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}
	return nil
}

func (b *s3Backend) Load(ctx context.Context) (*ir.State, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		// If the object doesn't exist, return empty state
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return ir.NewState(), nil
		}
		// Also handle 404 via the error message for S3 API variations
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return ir.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	content, err := DecryptState(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt remote state: %w", err)
	}

	var st ir.State
	if err := json.Unmarshal(content, &st); err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	if st.Records == nil {
		st.Records = make(map[string]*ir.ResourceRecord)
	}
	return &st, nil
}

func (b *s3Backend) Write(ctx context.Context, st *ir.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	encrypted, err := EncryptState(data)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(encrypted),
	}
	if b.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func (b *s3Backend) SaveRecord(ctx context.Context, st *ir.State, rec *ir.ResourceRecord) error {
	return b.Write(ctx, st)
}

func (b *s3Backend) DeleteRecord(ctx context.Context, st *ir.State, name string) error {
	return b.Write(ctx, st)
}

func (b *s3Backend) Lock(ctx context.Context, info *LockInfo) error {
	if b.dynamoDBTable == "" {
		return nil // No locking without DynamoDB
	}

	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":    &dbtypes.AttributeValueMemberS{Value: b.key},
			"Info":      &dbtypes.AttributeValueMemberS{Value: info.ID},
			"Operation": &dbtypes.AttributeValueMemberS{Value: info.Operation},
			"Who":       &dbtypes.AttributeValueMemberS{Value: info.Who},
			"Created":   &dbtypes.AttributeValueMemberS{Value: info.Created.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return fmt.Errorf("state is locked by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q", b.key, b.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (b *s3Backend) Unlock(ctx context.Context) error {
	if b.dynamoDBTable == "" {
		return nil
	}

	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (b *s3Backend) Close() error {
	return nil
}
