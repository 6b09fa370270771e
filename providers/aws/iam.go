package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

type iamRoleConfig struct {
	Name              string            `json:"name"`
	AssumeRolePolicy  string            `json:"assumeRolePolicy"`
	ManagedPolicyArns []string          `json:"managedPolicyArns"`
	Tags              map[string]string `json:"tags"`
}

func (p *Provider) createIamRole(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired iamRoleConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: strPtr(k), Value: strPtr(v)})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeIamRole, err)
	}
	name := *resp.Role.RoleName

	for _, arn := range desired.ManagedPolicyArns {
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: strPtr(arn),
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeIamRole, err)
		}
	}

	return name, map[string]any{
		"id":   name,
		"name": name,
		"arn":  deref(resp.Role.Arn),
	}, nil
}

func (p *Provider) readIamRole(ctx context.Context, name string) (map[string]any, bool, error) {
	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &name})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeIamRole, err)
	}
	return map[string]any{
		"id":   deref(resp.Role.RoleName),
		"name": deref(resp.Role.RoleName),
		"arn":  deref(resp.Role.Arn),
	}, true, nil
}

func (p *Provider) updateIamRole(ctx context.Context, name string, config map[string]any) (map[string]any, error) {
	var desired iamRoleConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	if desired.AssumeRolePolicy != "" {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &name,
			PolicyDocument: &desired.AssumeRolePolicy,
		})
		if err != nil {
			return nil, wrapErr("update", TypeIamRole, err)
		}
	}

	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: &name})
	if err != nil {
		return nil, wrapErr("update", TypeIamRole, err)
	}
	desiredSet := make(map[string]bool, len(desired.ManagedPolicyArns))
	for _, arn := range desired.ManagedPolicyArns {
		desiredSet[arn] = true
	}
	for _, pol := range attached.AttachedPolicies {
		arn := deref(pol.PolicyArn)
		if desiredSet[arn] {
			delete(desiredSet, arn)
			continue
		}
		_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: pol.PolicyArn,
		})
		if err != nil {
			return nil, wrapErr("update", TypeIamRole, err)
		}
	}
	for arn := range desiredSet {
		_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  &name,
			PolicyArn: strPtr(arn),
		})
		if err != nil {
			return nil, wrapErr("update", TypeIamRole, err)
		}
	}

	outputs, _, err := p.readIamRole(ctx, name)
	return outputs, err
}

func (p *Provider) deleteIamRole(ctx context.Context, name string) error {
	attached, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: &name})
	if err == nil {
		for _, pol := range attached.AttachedPolicies {
			_, _ = p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  &name,
				PolicyArn: pol.PolicyArn,
			})
		}
	}
	_, err = p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &name})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeIamRole, err)
	}
	return nil
}
