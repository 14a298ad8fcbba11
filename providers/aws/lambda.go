package aws

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type FunctionConfig struct {
	FunctionName string `json:"functionName"`
	Runtime      string `json:"runtime"`
	Handler      string `json:"handler"`
	Role         string `json:"role"`
	Code         string `json:"code"`
}

func functionSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_lambda_function",
		Attributes: map[string]schema.AttributeSchema{
			"functionName": {Type: schema.TypeString, Required: true, Immutable: true},
			"runtime":      {Type: schema.TypeString, Required: true},
			"handler":      {Type: schema.TypeString, Required: true},
			"role":         {Type: schema.TypeString, Required: true},
			"code":         {Type: schema.TypeString, Required: true},
			"id":           {Type: schema.TypeString, Computed: true},
			"arn":          {Type: schema.TypeString, Computed: true},
		},
	}
}

func (p *Provider) createFunction(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired FunctionConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	zipBytes, err := os.ReadFile(desired.Code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read code file: %w", err)
	}

	resp, err := p.lambdaClient.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: &desired.FunctionName,
		Runtime:      types.Runtime(desired.Runtime),
		Handler:      &desired.Handler,
		Role:         &desired.Role,
		Code:         &types.FunctionCode{ZipFile: zipBytes},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create function: %w", err)
	}

	outputs := map[string]any{
		"id":           *resp.FunctionName,
		"arn":          *resp.FunctionArn,
		"functionName": *resp.FunctionName,
	}
	return *resp.FunctionName, outputs, nil
}

func (p *Provider) updateFunction(ctx context.Context, id string, oldInputs, newInputs map[string]any) (map[string]any, error) {
	var prior, desired FunctionConfig
	if err := decodeInputs(oldInputs, &prior); err != nil {
		return nil, err
	}
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	if desired.Code != prior.Code {
		zipBytes, err := os.ReadFile(desired.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to read code file: %w", err)
		}
		_, err = p.lambdaClient.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
			FunctionName: &id,
			ZipFile:      zipBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update function code: %w", err)
		}
	}

	if desired.Runtime != prior.Runtime || desired.Handler != prior.Handler || desired.Role != prior.Role {
		_, err := p.lambdaClient.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
			FunctionName: &id,
			Runtime:      types.Runtime(desired.Runtime),
			Handler:      &desired.Handler,
			Role:         &desired.Role,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update function configuration: %w", err)
		}
	}

	outputs, _, err := p.readFunction(ctx, id)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

func (p *Provider) destroyFunction(ctx context.Context, id string) error {
	_, err := p.lambdaClient.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
		FunctionName: &id,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete function: %w", err)
	}
	return nil
}

func (p *Provider) readFunction(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.lambdaClient.GetFunction(ctx, &lambda.GetFunctionInput{
		FunctionName: &id,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read function: %w", err)
	}

	cfg := resp.Configuration
	outputs := map[string]any{
		"id":           *cfg.FunctionName,
		"arn":          *cfg.FunctionArn,
		"functionName": *cfg.FunctionName,
		"runtime":      string(cfg.Runtime),
	}
	if cfg.Handler != nil {
		outputs["handler"] = *cfg.Handler
	}
	if cfg.Role != nil {
		outputs["role"] = *cfg.Role
	}
	return outputs, true, nil
}
