package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrane-io/terrane/internal/schema"
)

type VpcConfig struct {
	CidrBlock string            `json:"cidrBlock"`
	Tags      map[string]string `json:"tags"`
}

func vpcSchema() schema.KindSchema {
	return schema.KindSchema{
		Kind: "aws_vpc",
		Attributes: map[string]schema.AttributeSchema{
			"cidrBlock": {Type: schema.TypeString, Required: true, Immutable: true},
			"tags":      {Type: schema.TypeMap},
			"id":        {Type: schema.TypeString, Computed: true},
		},
	}
}

func (p *Provider) createVpc(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired VpcConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create VPC: %w", err)
	}

	id := *resp.Vpc.VpcId
	if err := p.tagResource(ctx, id, desired.Tags); err != nil {
		return "", nil, err
	}

	return id, map[string]any{"id": id, "cidrBlock": *resp.Vpc.CidrBlock}, nil
}

func (p *Provider) updateVpc(ctx context.Context, id string, newInputs map[string]any) (map[string]any, error) {
	var desired VpcConfig
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	if err := p.tagResource(ctx, id, desired.Tags); err != nil {
		return nil, err
	}

	return map[string]any{"id": id, "cidrBlock": desired.CidrBlock}, nil
}

func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: &k, Value: &v})
	}
	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", id, err)
	}
	return nil
}

func (p *Provider) destroyVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &id})
	if err != nil && !isAPIError(err, "InvalidVpcID.NotFound") {
		return fmt.Errorf("failed to delete VPC: %w", err)
	}
	return nil
}

func (p *Provider) readVpc(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{id},
	})
	if err != nil {
		if isAPIError(err, "InvalidVpcID.NotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe VPC: %w", err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, false, nil
	}
	vpc := resp.Vpcs[0]
	return map[string]any{"id": *vpc.VpcId, "cidrBlock": *vpc.CidrBlock}, true, nil
}
