package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type TableConfig struct {
	TableName   string                `json:"tableName"`
	Attributes  []AttributeDefinition `json:"attributes"`
	KeySchema   []KeySchemaElement    `json:"keySchema"`
	BillingMode string                `json:"billingMode"`
}

type AttributeDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type KeySchemaElement struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func tableSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_dynamodb_table",
		Attributes: map[string]schema.AttributeSchema{
			"tableName":   {Type: schema.TypeString, Required: true, Immutable: true},
			"attributes":  {Type: schema.TypeList, Required: true, Immutable: true},
			"keySchema":   {Type: schema.TypeList, Required: true, Immutable: true},
			"billingMode": {Type: schema.TypeString},
			"id":          {Type: schema.TypeString, Computed: true},
			"arn":         {Type: schema.TypeString, Computed: true},
		},
	}
}

func (p *Provider) createTable(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired TableConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	var attrs []types.AttributeDefinition
	for _, a := range desired.Attributes {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: &a.Name,
			AttributeType: types.ScalarAttributeType(a.Type),
		})
	}

	var keySchema []types.KeySchemaElement
	for _, k := range desired.KeySchema {
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: &k.Name,
			KeyType:       types.KeyType(k.Type),
		})
	}

	billing := desired.BillingMode
	if billing == "" {
		billing = string(types.BillingModePayPerRequest)
	}

	resp, err := p.dynamodbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            &desired.TableName,
		AttributeDefinitions: attrs,
		KeySchema:            keySchema,
		BillingMode:          types.BillingMode(billing),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create table: %w", err)
	}

	outputs := map[string]any{
		"id":        *resp.TableDescription.TableName,
		"arn":       *resp.TableDescription.TableArn,
		"tableName": *resp.TableDescription.TableName,
	}
	return *resp.TableDescription.TableName, outputs, nil
}

func (p *Provider) updateTable(ctx context.Context, id string, oldInputs, newInputs map[string]any) (map[string]any, error) {
	var prior, desired TableConfig
	if err := decodeInputs(oldInputs, &prior); err != nil {
		return nil, err
	}
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	if desired.BillingMode != "" && desired.BillingMode != prior.BillingMode {
		_, err := p.dynamodbClient.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:   &id,
			BillingMode: types.BillingMode(desired.BillingMode),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update table: %w", err)
		}
	}

	return p.describeTableOutputs(ctx, id)
}

func (p *Provider) destroyTable(ctx context.Context, id string) error {
	_, err := p.dynamodbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: &id,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete table: %w", err)
	}
	return nil
}

func (p *Provider) readTable(ctx context.Context, id string) (map[string]any, bool, error) {
	outputs, err := p.describeTableOutputs(ctx, id)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return outputs, true, nil
}

func (p *Provider) describeTableOutputs(ctx context.Context, name string) (map[string]any, error) {
	resp, err := p.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &name,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        *resp.Table.TableName,
		"arn":       *resp.Table.TableArn,
		"tableName": *resp.Table.TableName,
	}, nil
}
