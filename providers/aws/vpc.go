package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrane-io/terrane/internal/provider"
)

type vpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type subnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type internetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type routeConfig struct {
	DestinationCidrBlock string `json:"destinationCidrBlock"`
	GatewayID            string `json:"gatewayId"`
	NatGatewayID         string `json:"natGatewayId"`
}

type routeTableConfig struct {
	VpcID     string        `json:"vpcId"`
	Routes    []routeConfig `json:"routes"`
	SubnetIDs []string      `json:"subnetIds"`
}

type securityGroupRule struct {
	FromPort   int      `json:"fromPort"`
	ToPort     int      `json:"toPort"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidrBlocks"`
}

type securityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []securityGroupRule `json:"ingress"`
	Egress      []securityGroupRule `json:"egress"`
}

func ec2Tags(tags map[string]string) []types.Tag {
	var out []types.Tag
	for k, v := range tags {
		out = append(out, types.Tag{Key: strPtr(k), Value: strPtr(v)})
	}
	return out
}

func (p *Provider) createVpc(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired vpcConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeVpc, err)
	}
	vpcID := *resp.Vpc.VpcId

	if desired.EnableDnsSupport {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            &vpcID,
			EnableDnsSupport: &types.AttributeBooleanValue{Value: boolPtr(true)},
		})
	}
	if desired.EnableDnsHostnames {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              &vpcID,
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: boolPtr(true)},
		})
	}
	if len(desired.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{vpcID},
			Tags:      ec2Tags(desired.Tags),
		})
	}

	return vpcID, map[string]any{
		"id":        vpcID,
		"cidrBlock": desired.CidrBlock,
	}, nil
}

func (p *Provider) readVpc(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeVpc, err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, false, nil
	}
	v := resp.Vpcs[0]
	return map[string]any{
		"id":        *v.VpcId,
		"cidrBlock": *v.CidrBlock,
	}, true, nil
}

func (p *Provider) deleteVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &id})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeVpc, err)
	}
	return nil
}

func (p *Provider) createSubnet(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired subnetConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeSubnet, err)
	}
	subnetID := *resp.Subnet.SubnetId

	if desired.MapPublicIpOnLaunch {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &subnetID,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: boolPtr(true)},
		})
	}
	if len(desired.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{subnetID},
			Tags:      ec2Tags(desired.Tags),
		})
	}

	return subnetID, map[string]any{
		"id":               subnetID,
		"vpcId":            desired.VpcID,
		"availabilityZone": deref(resp.Subnet.AvailabilityZone),
	}, nil
}

func (p *Provider) readSubnet(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeSubnet, err)
	}
	if len(resp.Subnets) == 0 {
		return nil, false, nil
	}
	s := resp.Subnets[0]
	return map[string]any{
		"id":               *s.SubnetId,
		"vpcId":            *s.VpcId,
		"availabilityZone": deref(s.AvailabilityZone),
	}, true, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &id})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeSubnet, err)
	}
	return nil
}

func (p *Provider) createInternetGateway(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired internetGatewayConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return "", nil, wrapErr("create", TypeInternetGateway, err)
	}
	igwID := *resp.InternetGateway.InternetGatewayId

	if desired.VpcID != "" {
		_, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: &igwID,
			VpcId:             &desired.VpcID,
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeInternetGateway, err)
		}
	}
	if len(desired.Tags) > 0 {
		_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{igwID},
			Tags:      ec2Tags(desired.Tags),
		})
	}

	return igwID, map[string]any{
		"id":    igwID,
		"vpcId": desired.VpcID,
	}, nil
}

func (p *Provider) readInternetGateway(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeInternetGateway, err)
	}
	if len(resp.InternetGateways) == 0 {
		return nil, false, nil
	}
	igw := resp.InternetGateways[0]
	outputs := map[string]any{"id": *igw.InternetGatewayId}
	if len(igw.Attachments) > 0 {
		outputs["vpcId"] = deref(igw.Attachments[0].VpcId)
	}
	return outputs, true, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, id string) error {
	resp, err := p.ec2Client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return wrapErr("delete", TypeInternetGateway, err)
	}
	// Detach before delete; an attached gateway cannot be removed.
	if len(resp.InternetGateways) > 0 {
		for _, att := range resp.InternetGateways[0].Attachments {
			_, _ = p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: &id,
				VpcId:             att.VpcId,
			})
		}
	}
	_, err = p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: &id})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeInternetGateway, err)
	}
	return nil
}

func (p *Provider) createRouteTable(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired routeTableConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: &desired.VpcID})
	if err != nil {
		return "", nil, wrapErr("create", TypeRouteTable, err)
	}
	rtID := *resp.RouteTable.RouteTableId

	if err := p.syncRoutes(ctx, rtID, desired.Routes); err != nil {
		return "", nil, err
	}
	for _, subnetID := range desired.SubnetIDs {
		_, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: &rtID,
			SubnetId:     strPtr(subnetID),
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeRouteTable, err)
		}
	}

	return rtID, map[string]any{
		"id":    rtID,
		"vpcId": desired.VpcID,
	}, nil
}

func (p *Provider) syncRoutes(ctx context.Context, rtID string, routes []routeConfig) error {
	for _, r := range routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         &rtID,
			DestinationCidrBlock: strPtr(r.DestinationCidrBlock),
		}
		if r.GatewayID != "" {
			input.GatewayId = strPtr(r.GatewayID)
		}
		if r.NatGatewayID != "" {
			input.NatGatewayId = strPtr(r.NatGatewayID)
		}
		if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
			return wrapErr("create", TypeRouteTable, err)
		}
	}
	return nil
}

func (p *Provider) updateRouteTable(ctx context.Context, id string, config map[string]any) (map[string]any, error) {
	var desired routeTableConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	if err != nil {
		return nil, wrapErr("update", TypeRouteTable, err)
	}
	if len(resp.RouteTables) == 0 {
		return nil, provider.ErrRequiresReplacement
	}

	// Drop the non-local routes and recreate from the desired set.
	for _, r := range resp.RouteTables[0].Routes {
		if r.GatewayId != nil && *r.GatewayId == "local" {
			continue
		}
		if r.DestinationCidrBlock == nil {
			continue
		}
		_, _ = p.ec2Client.DeleteRoute(ctx, &ec2.DeleteRouteInput{
			RouteTableId:         &id,
			DestinationCidrBlock: r.DestinationCidrBlock,
		})
	}
	if err := p.syncRoutes(ctx, id, desired.Routes); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":    id,
		"vpcId": desired.VpcID,
	}, nil
}

func (p *Provider) readRouteTable(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeRouteTable, err)
	}
	if len(resp.RouteTables) == 0 {
		return nil, false, nil
	}
	rt := resp.RouteTables[0]
	return map[string]any{
		"id":    *rt.RouteTableId,
		"vpcId": deref(rt.VpcId),
	}, true, nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, id string) error {
	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	if err == nil && len(resp.RouteTables) > 0 {
		for _, assoc := range resp.RouteTables[0].Associations {
			if assoc.RouteTableAssociationId != nil && !derefBool(assoc.Main) {
				_, _ = p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
					AssociationId: assoc.RouteTableAssociationId,
				})
			}
		}
	}
	_, err = p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: &id})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeRouteTable, err)
	}
	return nil
}

func (p *Provider) createSecurityGroup(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired securityGroupConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   &desired.Name,
		Description: &desired.Description,
	}
	if desired.VpcID != "" {
		input.VpcId = &desired.VpcID
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeSecurityGroup, err)
	}
	groupID := *resp.GroupId

	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: ipPermissions(desired.Ingress),
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeSecurityGroup, err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: ipPermissions(desired.Egress),
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeSecurityGroup, err)
		}
	}

	return groupID, map[string]any{
		"id":   groupID,
		"name": desired.Name,
	}, nil
}

func ipPermissions(rules []securityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, r := range rules {
		var ranges []types.IpRange
		for _, cidr := range r.CidrBlocks {
			ranges = append(ranges, types.IpRange{CidrIp: strPtr(cidr)})
		}
		perms = append(perms, types.IpPermission{
			FromPort:   int32Ptr(r.FromPort),
			ToPort:     int32Ptr(r.ToPort),
			IpProtocol: strPtr(r.Protocol),
			IpRanges:   ranges,
		})
	}
	return perms
}

func (p *Provider) updateSecurityGroup(ctx context.Context, id string, config map[string]any) (map[string]any, error) {
	var desired securityGroupConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		return nil, wrapErr("update", TypeSecurityGroup, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, provider.ErrRequiresReplacement
	}
	current := resp.SecurityGroups[0]

	if len(current.IpPermissions) > 0 {
		_, err := p.ec2Client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       &id,
			IpPermissions: current.IpPermissions,
		})
		if err != nil {
			return nil, wrapErr("update", TypeSecurityGroup, err)
		}
	}
	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &id,
			IpPermissions: ipPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, wrapErr("update", TypeSecurityGroup, err)
		}
	}

	return map[string]any{
		"id":   id,
		"name": desired.Name,
	}, nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) (map[string]any, bool, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeSecurityGroup, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, false, nil
	}
	sg := resp.SecurityGroups[0]
	return map[string]any{
		"id":   *sg.GroupId,
		"name": deref(sg.GroupName),
	}, true, nil
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &id})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeSecurityGroup, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
