package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Tags             map[string]string `json:"tags"`
}

func roleSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_iam_role",
		Attributes: map[string]schema.AttributeSchema{
			"name":             {Type: schema.TypeString, Required: true, Immutable: true},
			"assumeRolePolicy": {Type: schema.TypeString, Required: true},
			"tags":             {Type: schema.TypeMap},
			"id":               {Type: schema.TypeString, Computed: true},
			"arn":              {Type: schema.TypeString, Computed: true},
		},
	}
}

func (p *Provider) createRole(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired RoleConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	}

	if len(desired.Tags) > 0 {
		var tags []types.Tag
		for k, v := range desired.Tags {
			tags = append(tags, types.Tag{Key: &k, Value: &v})
		}
		input.Tags = tags
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create role: %w", err)
	}

	outputs := map[string]any{
		"id":   *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"name": *resp.Role.RoleName,
	}
	return *resp.Role.RoleName, outputs, nil
}

func (p *Provider) updateRole(ctx context.Context, id string, newInputs map[string]any) (map[string]any, error) {
	var desired RoleConfig
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName:       &id,
		PolicyDocument: &desired.AssumeRolePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update assume role policy: %w", err)
	}

	if len(desired.Tags) > 0 {
		var tags []types.Tag
		for k, v := range desired.Tags {
			tags = append(tags, types.Tag{Key: &k, Value: &v})
		}
		_, err := p.iamClient.TagRole(ctx, &iam.TagRoleInput{
			RoleName: &id,
			Tags:     tags,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag role: %w", err)
		}
	}

	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &id})
	if err != nil {
		return nil, fmt.Errorf("failed to read role back: %w", err)
	}
	return map[string]any{
		"id":   *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"name": *resp.Role.RoleName,
	}, nil
}

func (p *Provider) destroyRole(ctx context.Context, id string) error {
	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: &id,
	})
	if err != nil {
		var notFound *types.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

func (p *Provider) readRole(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &id})
	if err != nil {
		var notFound *types.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read role: %w", err)
	}
	return map[string]any{
		"id":   *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"name": *resp.Role.RoleName,
	}, true, nil
}
