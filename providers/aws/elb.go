package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

type loadBalancerConfig struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups"`
	Scheme         string   `json:"scheme"`
}

type targetGroupConfig struct {
	Name            string `json:"name"`
	Port            int    `json:"port"`
	Protocol        string `json:"protocol"`
	VpcID           string `json:"vpcId"`
	TargetType      string `json:"targetType"`
	HealthCheckPath string `json:"healthCheckPath"`
}

type listenerAction struct {
	Type           string `json:"type"`
	TargetGroupArn string `json:"targetGroupArn"`
}

type listenerConfig struct {
	LoadBalancerArn string           `json:"loadBalancerArn"`
	Port            int              `json:"port"`
	Protocol        string           `json:"protocol"`
	CertificateArn  string           `json:"certificateArn"`
	DefaultActions  []listenerAction `json:"defaultActions"`
}

func (p *Provider) createLoadBalancer(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired loadBalancerConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:           &desired.Name,
		Subnets:        desired.Subnets,
		SecurityGroups: desired.SecurityGroups,
		Scheme:         types.LoadBalancerSchemeEnum(desired.Scheme),
		Type:           types.LoadBalancerTypeEnum(desired.Type),
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeLoadBalancer, err)
	}

	lb := resp.LoadBalancers[0]
	arn := *lb.LoadBalancerArn
	return arn, map[string]any{
		"id":           arn,
		"arn":          arn,
		"name":         deref(lb.LoadBalancerName),
		"dnsName":      deref(lb.DNSName),
		"hostedZoneId": deref(lb.CanonicalHostedZoneId),
	}, nil
}

func (p *Provider) readLoadBalancer(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeLoadBalancer, err)
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, false, nil
	}
	lb := resp.LoadBalancers[0]
	return map[string]any{
		"id":           arn,
		"arn":          arn,
		"name":         deref(lb.LoadBalancerName),
		"dnsName":      deref(lb.DNSName),
		"hostedZoneId": deref(lb.CanonicalHostedZoneId),
	}, true, nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: &arn,
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeLoadBalancer, err)
	}
	return nil
}

func (p *Provider) createTargetGroup(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired targetGroupConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name:       &desired.Name,
		Port:       int32Ptr(desired.Port),
		Protocol:   types.ProtocolEnum(desired.Protocol),
		VpcId:      &desired.VpcID,
		TargetType: types.TargetTypeEnum(desired.TargetType),
	}
	if desired.HealthCheckPath != "" {
		input.HealthCheckPath = &desired.HealthCheckPath
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeTargetGroup, err)
	}

	tg := resp.TargetGroups[0]
	arn := *tg.TargetGroupArn
	return arn, map[string]any{
		"id":   arn,
		"arn":  arn,
		"name": deref(tg.TargetGroupName),
	}, nil
}

func (p *Provider) readTargetGroup(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeTargetGroup, err)
	}
	if len(resp.TargetGroups) == 0 {
		return nil, false, nil
	}
	tg := resp.TargetGroups[0]
	return map[string]any{
		"id":   arn,
		"arn":  arn,
		"name": deref(tg.TargetGroupName),
	}, true, nil
}

func (p *Provider) deleteTargetGroup(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: &arn,
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeTargetGroup, err)
	}
	return nil
}

func (p *Provider) createListener(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired listenerConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &elasticloadbalancingv2.CreateListenerInput{
		LoadBalancerArn: &desired.LoadBalancerArn,
		Port:            int32Ptr(desired.Port),
		Protocol:        types.ProtocolEnum(desired.Protocol),
	}
	if desired.CertificateArn != "" {
		input.Certificates = []types.Certificate{{CertificateArn: &desired.CertificateArn}}
	}
	for _, a := range desired.DefaultActions {
		input.DefaultActions = append(input.DefaultActions, types.Action{
			Type:           types.ActionTypeEnum(a.Type),
			TargetGroupArn: optStr(a.TargetGroupArn),
		})
	}

	resp, err := p.elbv2Client.CreateListener(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeListener, err)
	}

	arn := *resp.Listeners[0].ListenerArn
	return arn, map[string]any{
		"id":  arn,
		"arn": arn,
	}, nil
}

func (p *Provider) readListener(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.elbv2Client.DescribeListeners(ctx, &elasticloadbalancingv2.DescribeListenersInput{
		ListenerArns: []string{arn},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeListener, err)
	}
	if len(resp.Listeners) == 0 {
		return nil, false, nil
	}
	return map[string]any{
		"id":  arn,
		"arn": arn,
	}, true, nil
}

func (p *Provider) deleteListener(ctx context.Context, arn string) error {
	_, err := p.elbv2Client.DeleteListener(ctx, &elasticloadbalancingv2.DeleteListenerInput{
		ListenerArn: &arn,
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeListener, err)
	}
	return nil
}
