package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type BucketConfig struct {
	Bucket string            `json:"bucket"`
	Tags   map[string]string `json:"tags"`
}

func bucketSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_s3_bucket",
		Attributes: map[string]schema.AttributeSchema{
			"bucket": {Type: schema.TypeString, Required: true, Immutable: true},
			"tags":   {Type: schema.TypeMap},
			"id":     {Type: schema.TypeString, Computed: true},
			"arn":    {Type: schema.TypeString, Computed: true},
		},
	}
}

func bucketOutputs(bucket string) map[string]any {
	return map[string]any{
		"id":     bucket,
		"arn":    fmt.Sprintf("arn:aws:s3:::%s", bucket),
		"bucket": bucket,
	}
}

func (p *Provider) createBucket(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired BucketConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	// Bucket names are globally unique; creating an already-owned bucket
	// is treated as success.
	_, err := p.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &desired.Bucket,
	})
	if err != nil && !isAPIError(err, "BucketAlreadyOwnedByYou") {
		return "", nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	if err := p.putBucketTags(ctx, desired.Bucket, desired.Tags); err != nil {
		return "", nil, err
	}

	return desired.Bucket, bucketOutputs(desired.Bucket), nil
}

func (p *Provider) updateBucket(ctx context.Context, id string, newInputs map[string]any) (map[string]any, error) {
	var desired BucketConfig
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	if err := p.putBucketTags(ctx, id, desired.Tags); err != nil {
		return nil, err
	}

	return bucketOutputs(id), nil
}

func (p *Provider) putBucketTags(ctx context.Context, bucket string, tags map[string]string) error {
	if len(tags) == 0 {
		_, err := p.s3Client.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{
			Bucket: &bucket,
		})
		if err != nil {
			return fmt.Errorf("failed to clear bucket tags: %w", err)
		}
		return nil
	}

	var tagSet []types.Tag
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: &k, Value: &v})
	}
	_, err := p.s3Client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  &bucket,
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("failed to tag bucket: %w", err)
	}
	return nil
}

func (p *Provider) destroyBucket(ctx context.Context, id string) error {
	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: &id,
	})
	if err != nil && !isAPIError(err, "NoSuchBucket") {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

func (p *Provider) readBucket(ctx context.Context, id string) (map[string]any, bool, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &id,
	})
	if err != nil {
		if isAPIError(err, "NotFound", "NoSuchBucket") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	return bucketOutputs(id), true, nil
}
