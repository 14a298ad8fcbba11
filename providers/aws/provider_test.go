package aws

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemasCoverAllKinds(t *testing.T) {
	p := New()

	kinds := make(map[string]bool)
	for _, ks := range p.Schemas() {
		kinds[ks.Kind] = true
		assert.True(t, strings.HasPrefix(ks.Kind, "aws_"))
		idAttr, ok := ks.Attributes["id"]
		require.True(t, ok, "kind %s must expose a computed id", ks.Kind)
		assert.True(t, idAttr.Computed)
	}

	expected := []string{
		"aws_s3_bucket",
		"aws_dynamodb_table",
		"aws_iam_role",
		"aws_sqs_queue",
		"aws_vpc",
		"aws_lambda_function",
	}
	for _, kind := range expected {
		assert.True(t, kinds[kind], "missing schema for %s", kind)
	}
	assert.Len(t, kinds, len(expected))
}

func TestDecodeInputsTable(t *testing.T) {
	inputs := map[string]any{
		"tableName": "events",
		"attributes": []any{
			map[string]any{"name": "pk", "type": "S"},
			map[string]any{"name": "sk", "type": "N"},
		},
		"keySchema": []any{
			map[string]any{"name": "pk", "type": "HASH"},
		},
		"billingMode": "PAY_PER_REQUEST",
	}

	var cfg TableConfig
	require.NoError(t, decodeInputs(inputs, &cfg))

	assert.Equal(t, "events", cfg.TableName)
	require.Len(t, cfg.Attributes, 2)
	assert.Equal(t, "pk", cfg.Attributes[0].Name)
	assert.Equal(t, "S", cfg.Attributes[0].Type)
	require.Len(t, cfg.KeySchema, 1)
	assert.Equal(t, "HASH", cfg.KeySchema[0].Type)
	assert.Equal(t, "PAY_PER_REQUEST", cfg.BillingMode)
}

func TestQueueAttributesOmitZeroValues(t *testing.T) {
	attrs := queueAttributes(QueueConfig{
		QueueName:         "jobs",
		VisibilityTimeout: 60,
		RedrivePolicy:     `{"maxReceiveCount":5}`,
	})

	assert.Equal(t, "60", attrs["VisibilityTimeout"])
	assert.Equal(t, `{"maxReceiveCount":5}`, attrs["RedrivePolicy"])
	assert.NotContains(t, attrs, "DelaySeconds")
	assert.NotContains(t, attrs, "MessageRetentionPeriod")
}

func TestIsAPIError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{
		Code:    "NoSuchBucket",
		Message: "bucket does not exist",
	})

	assert.True(t, isAPIError(err, "NoSuchBucket"))
	assert.True(t, isAPIError(err, "NotFound", "NoSuchBucket"))
	assert.False(t, isAPIError(err, "NotFound"))
	assert.False(t, isAPIError(errors.New("plain"), "NoSuchBucket"))
}
