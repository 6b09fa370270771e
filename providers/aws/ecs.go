package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

type ecsClusterConfig struct {
	ClusterName string `json:"clusterName"`
}

type containerDefinition struct {
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	Cpu          int               `json:"cpu"`
	Memory       int               `json:"memory"`
	Essential    bool              `json:"essential"`
	Environment  map[string]string `json:"environment"`
	Secrets      map[string]string `json:"secrets"`
	PortMappings []portMapping     `json:"portMappings"`
}

type portMapping struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort"`
	Protocol      string `json:"protocol"`
}

type taskDefinitionConfig struct {
	Family               string                `json:"family"`
	NetworkMode          string                `json:"networkMode"`
	Cpu                  string                `json:"cpu"`
	Memory               string                `json:"memory"`
	ExecutionRoleArn     string                `json:"executionRoleArn"`
	TaskRoleArn          string                `json:"taskRoleArn"`
	ContainerDefinitions []containerDefinition `json:"containerDefinitions"`
}

type ecsNetworkConfiguration struct {
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups"`
	AssignPublicIp bool     `json:"assignPublicIp"`
}

type ecsLoadBalancer struct {
	TargetGroupArn string `json:"targetGroupArn"`
	ContainerName  string `json:"containerName"`
	ContainerPort  int    `json:"containerPort"`
}

type ecsServiceConfig struct {
	ServiceName          string                   `json:"serviceName"`
	Cluster              string                   `json:"cluster"`
	TaskDefinition       string                   `json:"taskDefinition"`
	DesiredCount         int                      `json:"desiredCount"`
	LaunchType           string                   `json:"launchType"`
	NetworkConfiguration *ecsNetworkConfiguration `json:"networkConfiguration"`
	LoadBalancers        []ecsLoadBalancer        `json:"loadBalancers"`
}

func (p *Provider) createEcsCluster(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired ecsClusterConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: &desired.ClusterName,
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeEcsCluster, err)
	}

	name := *resp.Cluster.ClusterName
	return name, map[string]any{
		"id":   name,
		"name": name,
		"arn":  deref(resp.Cluster.ClusterArn),
	}, nil
}

func (p *Provider) readEcsCluster(ctx context.Context, name string) (map[string]any, bool, error) {
	resp, err := p.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{name},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeEcsCluster, err)
	}
	for _, c := range resp.Clusters {
		if deref(c.Status) == "INACTIVE" {
			continue
		}
		return map[string]any{
			"id":   deref(c.ClusterName),
			"name": deref(c.ClusterName),
			"arn":  deref(c.ClusterArn),
		}, true, nil
	}
	return nil, false, nil
}

func (p *Provider) deleteEcsCluster(ctx context.Context, name string) error {
	_, err := p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: &name})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeEcsCluster, err)
	}
	return nil
}

func (p *Provider) createTaskDefinition(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired taskDefinitionConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	var containerDefs []types.ContainerDefinition
	for _, c := range desired.ContainerDefinitions {
		var mappings []types.PortMapping
		for _, m := range c.PortMappings {
			mappings = append(mappings, types.PortMapping{
				ContainerPort: int32Ptr(m.ContainerPort),
				HostPort:      int32Ptr(m.HostPort),
				Protocol:      types.TransportProtocol(m.Protocol),
			})
		}
		var env []types.KeyValuePair
		for k, v := range c.Environment {
			env = append(env, types.KeyValuePair{Name: strPtr(k), Value: strPtr(v)})
		}
		var secrets []types.Secret
		for k, v := range c.Secrets {
			secrets = append(secrets, types.Secret{Name: strPtr(k), ValueFrom: strPtr(v)})
		}
		containerDefs = append(containerDefs, types.ContainerDefinition{
			Name:         strPtr(c.Name),
			Image:        strPtr(c.Image),
			Cpu:          int32(c.Cpu),
			Memory:       int32Ptr(c.Memory),
			Essential:    boolPtr(c.Essential),
			Environment:  env,
			Secrets:      secrets,
			PortMappings: mappings,
		})
	}

	resp, err := p.ecsClient.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  &desired.Family,
		ContainerDefinitions:    containerDefs,
		NetworkMode:             types.NetworkMode(desired.NetworkMode),
		Cpu:                     &desired.Cpu,
		Memory:                  &desired.Memory,
		ExecutionRoleArn:        optStr(desired.ExecutionRoleArn),
		TaskRoleArn:             optStr(desired.TaskRoleArn),
		RequiresCompatibilities: []types.Compatibility{types.CompatibilityFargate},
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeTaskDefinition, err)
	}

	arn := *resp.TaskDefinition.TaskDefinitionArn
	return arn, map[string]any{
		"id":       arn,
		"arn":      arn,
		"family":   deref(resp.TaskDefinition.Family),
		"revision": int(resp.TaskDefinition.Revision),
	}, nil
}

func (p *Provider) readTaskDefinition(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.ecsClient.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: &arn,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeTaskDefinition, err)
	}
	td := resp.TaskDefinition
	if td.Status == types.TaskDefinitionStatusInactive {
		return nil, false, nil
	}
	return map[string]any{
		"id":       deref(td.TaskDefinitionArn),
		"arn":      deref(td.TaskDefinitionArn),
		"family":   deref(td.Family),
		"revision": int(td.Revision),
	}, true, nil
}

func (p *Provider) deleteTaskDefinition(ctx context.Context, arn string) error {
	_, err := p.ecsClient.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: &arn,
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeTaskDefinition, err)
	}
	return nil
}

// Services are addressed as "<cluster>/<serviceName>" so deletion knows the
// cluster without consulting config.
func serviceID(cluster, name string) string {
	return cluster + "/" + name
}

func splitServiceID(id string) (cluster, name string, err error) {
	cluster, name, ok := strings.Cut(id, "/")
	if !ok {
		return "", "", fmt.Errorf("malformed service id %q", id)
	}
	return cluster, name, nil
}

func (p *Provider) createEcsService(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired ecsServiceConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &ecs.CreateServiceInput{
		ServiceName:    &desired.ServiceName,
		Cluster:        &desired.Cluster,
		TaskDefinition: &desired.TaskDefinition,
		DesiredCount:   int32Ptr(desired.DesiredCount),
		LaunchType:     types.LaunchType(desired.LaunchType),
	}
	if desired.NetworkConfiguration != nil {
		input.NetworkConfiguration = awsVpcConfiguration(desired.NetworkConfiguration)
	}
	for _, lb := range desired.LoadBalancers {
		input.LoadBalancers = append(input.LoadBalancers, types.LoadBalancer{
			TargetGroupArn: strPtr(lb.TargetGroupArn),
			ContainerName:  strPtr(lb.ContainerName),
			ContainerPort:  int32Ptr(lb.ContainerPort),
		})
	}

	resp, err := p.ecsClient.CreateService(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeEcsService, err)
	}

	id := serviceID(desired.Cluster, desired.ServiceName)
	return id, map[string]any{
		"id":   id,
		"name": desired.ServiceName,
		"arn":  deref(resp.Service.ServiceArn),
	}, nil
}

func awsVpcConfiguration(nc *ecsNetworkConfiguration) *types.NetworkConfiguration {
	assignPublic := types.AssignPublicIpDisabled
	if nc.AssignPublicIp {
		assignPublic = types.AssignPublicIpEnabled
	}
	return &types.NetworkConfiguration{
		AwsvpcConfiguration: &types.AwsVpcConfiguration{
			Subnets:        nc.Subnets,
			SecurityGroups: nc.SecurityGroups,
			AssignPublicIp: assignPublic,
		},
	}
}

func (p *Provider) readEcsService(ctx context.Context, id string) (map[string]any, bool, error) {
	cluster, name, err := splitServiceID(id)
	if err != nil {
		return nil, false, err
	}

	resp, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  &cluster,
		Services: []string{name},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeEcsService, err)
	}
	for _, svc := range resp.Services {
		if deref(svc.Status) == "INACTIVE" {
			continue
		}
		return map[string]any{
			"id":           id,
			"name":         deref(svc.ServiceName),
			"arn":          deref(svc.ServiceArn),
			"runningCount": int(svc.RunningCount),
		}, true, nil
	}
	return nil, false, nil
}

func (p *Provider) updateEcsService(ctx context.Context, id string, config map[string]any) (map[string]any, error) {
	cluster, name, err := splitServiceID(id)
	if err != nil {
		return nil, err
	}
	var desired ecsServiceConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	input := &ecs.UpdateServiceInput{
		Cluster:      &cluster,
		Service:      &name,
		DesiredCount: int32Ptr(desired.DesiredCount),
	}
	if desired.TaskDefinition != "" {
		input.TaskDefinition = &desired.TaskDefinition
	}
	if desired.NetworkConfiguration != nil {
		input.NetworkConfiguration = awsVpcConfiguration(desired.NetworkConfiguration)
	}

	resp, err := p.ecsClient.UpdateService(ctx, input)
	if err != nil {
		return nil, wrapErr("update", TypeEcsService, err)
	}
	return map[string]any{
		"id":   id,
		"name": deref(resp.Service.ServiceName),
		"arn":  deref(resp.Service.ServiceArn),
	}, nil
}

func (p *Provider) deleteEcsService(ctx context.Context, id string) error {
	cluster, name, err := splitServiceID(id)
	if err != nil {
		return err
	}
	_, err = p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: &cluster,
		Service: &name,
		Force:   boolPtr(true),
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeEcsService, err)
	}
	return nil
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
