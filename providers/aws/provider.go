// Package aws provisions AWS resources for the review-environment stack:
// VPC networking, RDS, ECS, load balancing, certificates, DNS and IAM.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/smithy-go"

	"github.com/terrane-io/terrane/internal/provider"
)

const (
	TypeVpc             = "aws_vpc"
	TypeSubnet          = "aws_subnet"
	TypeInternetGateway = "aws_internet_gateway"
	TypeRouteTable      = "aws_route_table"
	TypeSecurityGroup   = "aws_security_group"
	TypeDBInstance      = "aws_db_instance"
	TypeEcsCluster      = "aws_ecs_cluster"
	TypeTaskDefinition  = "aws_ecs_task_definition"
	TypeEcsService      = "aws_ecs_service"
	TypeLoadBalancer    = "aws_lb"
	TypeTargetGroup     = "aws_lb_target_group"
	TypeListener        = "aws_lb_listener"
	TypeCertificate     = "aws_acm_certificate"
	TypeRoute53Record   = "aws_route53_record"
	TypeIamRole         = "aws_iam_role"
)

type Provider struct {
	ec2Client     *ec2.Client
	rdsClient     *rds.Client
	ecsClient     *ecs.Client
	elbv2Client   *elasticloadbalancingv2.Client
	acmClient     *acm.Client
	route53Client *route53.Client
	iamClient     *iam.Client
}

func New() *Provider {
	return &Provider{}
}

func init() {
	provider.RegisterFactory("aws", func() provider.Interface { return New() })
}

func (p *Provider) Configure(ctx context.Context) error {
	if p.ec2Client != nil {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := os.Getenv("AWS_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.rdsClient = rds.NewFromConfig(cfg)
	p.ecsClient = ecs.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.acmClient = acm.NewFromConfig(cfg)
	p.route53Client = route53.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	return nil
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		TypeVpc: {
			Attributes: map[string]provider.Attribute{
				"cidrBlock": {ForceNew: true},
			},
		},
		TypeSubnet: {
			Attributes: map[string]provider.Attribute{
				"vpcId":            {ForceNew: true},
				"cidrBlock":        {ForceNew: true},
				"availabilityZone": {ForceNew: true},
			},
		},
		TypeInternetGateway: {
			Attributes: map[string]provider.Attribute{
				"vpcId": {ForceNew: true},
			},
		},
		TypeRouteTable: {
			Attributes: map[string]provider.Attribute{
				"vpcId": {ForceNew: true},
			},
		},
		TypeSecurityGroup: {
			Attributes: map[string]provider.Attribute{
				"name":        {ForceNew: true},
				"description": {ForceNew: true},
				"vpcId":       {ForceNew: true},
			},
		},
		TypeDBInstance: {
			Attributes: map[string]provider.Attribute{
				"identifier":         {ForceNew: true},
				"engine":             {ForceNew: true},
				"masterUsername":     {ForceNew: true},
				"masterUserPassword": {Sensitive: true},
				"endpoint":           {Computed: true},
			},
		},
		TypeEcsCluster: {
			Attributes: map[string]provider.Attribute{
				"clusterName": {ForceNew: true},
			},
		},
		TypeTaskDefinition: {
			// Task definitions are immutable revisions; any change registers
			// a new one.
			Attributes: map[string]provider.Attribute{
				"family":               {ForceNew: true},
				"networkMode":          {ForceNew: true},
				"cpu":                  {ForceNew: true},
				"memory":               {ForceNew: true},
				"containerDefinitions": {ForceNew: true},
			},
			CreateBeforeDestroy: true,
		},
		TypeEcsService: {
			Attributes: map[string]provider.Attribute{
				"serviceName": {ForceNew: true},
				"cluster":     {ForceNew: true},
				"launchType":  {ForceNew: true},
			},
		},
		TypeLoadBalancer: {
			Attributes: map[string]provider.Attribute{
				"name":    {ForceNew: true},
				"type":    {ForceNew: true},
				"scheme":  {ForceNew: true},
				"dnsName": {Computed: true},
			},
		},
		TypeTargetGroup: {
			Attributes: map[string]provider.Attribute{
				"name":       {ForceNew: true},
				"port":       {ForceNew: true},
				"protocol":   {ForceNew: true},
				"vpcId":      {ForceNew: true},
				"targetType": {ForceNew: true},
			},
		},
		TypeListener: {
			Attributes: map[string]provider.Attribute{
				"loadBalancerArn": {ForceNew: true},
				"port":            {ForceNew: true},
				"protocol":        {ForceNew: true},
			},
		},
		TypeCertificate: {
			Attributes: map[string]provider.Attribute{
				"domainName":       {ForceNew: true},
				"validationMethod": {ForceNew: true},
				"arn":              {Computed: true},
			},
			CreateBeforeDestroy: true,
		},
		TypeRoute53Record: {
			Attributes: map[string]provider.Attribute{
				"zoneId": {ForceNew: true},
				"name":   {ForceNew: true},
				"type":   {ForceNew: true},
			},
		},
		TypeIamRole: {
			Attributes: map[string]provider.Attribute{
				"name": {ForceNew: true},
				"arn":  {Computed: true},
			},
		},
	}
}

func (p *Provider) Create(ctx context.Context, typ string, config map[string]any) (string, map[string]any, error) {
	switch typ {
	case TypeVpc:
		return p.createVpc(ctx, config)
	case TypeSubnet:
		return p.createSubnet(ctx, config)
	case TypeInternetGateway:
		return p.createInternetGateway(ctx, config)
	case TypeRouteTable:
		return p.createRouteTable(ctx, config)
	case TypeSecurityGroup:
		return p.createSecurityGroup(ctx, config)
	case TypeDBInstance:
		return p.createDBInstance(ctx, config)
	case TypeEcsCluster:
		return p.createEcsCluster(ctx, config)
	case TypeTaskDefinition:
		return p.createTaskDefinition(ctx, config)
	case TypeEcsService:
		return p.createEcsService(ctx, config)
	case TypeLoadBalancer:
		return p.createLoadBalancer(ctx, config)
	case TypeTargetGroup:
		return p.createTargetGroup(ctx, config)
	case TypeListener:
		return p.createListener(ctx, config)
	case TypeCertificate:
		return p.createCertificate(ctx, config)
	case TypeRoute53Record:
		return p.createRoute53Record(ctx, config)
	case TypeIamRole:
		return p.createIamRole(ctx, config)
	default:
		return "", nil, fmt.Errorf("unsupported resource type %q", typ)
	}
}

func (p *Provider) Read(ctx context.Context, typ, externalID string) (map[string]any, bool, error) {
	switch typ {
	case TypeVpc:
		return p.readVpc(ctx, externalID)
	case TypeSubnet:
		return p.readSubnet(ctx, externalID)
	case TypeInternetGateway:
		return p.readInternetGateway(ctx, externalID)
	case TypeRouteTable:
		return p.readRouteTable(ctx, externalID)
	case TypeSecurityGroup:
		return p.readSecurityGroup(ctx, externalID)
	case TypeDBInstance:
		return p.readDBInstance(ctx, externalID)
	case TypeEcsCluster:
		return p.readEcsCluster(ctx, externalID)
	case TypeTaskDefinition:
		return p.readTaskDefinition(ctx, externalID)
	case TypeEcsService:
		return p.readEcsService(ctx, externalID)
	case TypeLoadBalancer:
		return p.readLoadBalancer(ctx, externalID)
	case TypeTargetGroup:
		return p.readTargetGroup(ctx, externalID)
	case TypeListener:
		return p.readListener(ctx, externalID)
	case TypeCertificate:
		return p.readCertificate(ctx, externalID)
	case TypeRoute53Record:
		// Record sets have no describe-by-id call; treat them as present.
		return map[string]any{"id": externalID}, true, nil
	case TypeIamRole:
		return p.readIamRole(ctx, externalID)
	default:
		return nil, false, fmt.Errorf("unsupported resource type %q", typ)
	}
}

func (p *Provider) Update(ctx context.Context, typ, externalID string, config map[string]any) (map[string]any, error) {
	switch typ {
	case TypeDBInstance:
		return p.updateDBInstance(ctx, externalID, config)
	case TypeEcsService:
		return p.updateEcsService(ctx, externalID, config)
	case TypeSecurityGroup:
		return p.updateSecurityGroup(ctx, externalID, config)
	case TypeRouteTable:
		return p.updateRouteTable(ctx, externalID, config)
	case TypeRoute53Record:
		return p.updateRoute53Record(ctx, externalID, config)
	case TypeIamRole:
		return p.updateIamRole(ctx, externalID, config)
	default:
		// Everything else is immutable once created.
		return nil, provider.ErrRequiresReplacement
	}
}

func (p *Provider) Delete(ctx context.Context, typ, externalID string) error {
	switch typ {
	case TypeVpc:
		return p.deleteVpc(ctx, externalID)
	case TypeSubnet:
		return p.deleteSubnet(ctx, externalID)
	case TypeInternetGateway:
		return p.deleteInternetGateway(ctx, externalID)
	case TypeRouteTable:
		return p.deleteRouteTable(ctx, externalID)
	case TypeSecurityGroup:
		return p.deleteSecurityGroup(ctx, externalID)
	case TypeDBInstance:
		return p.deleteDBInstance(ctx, externalID)
	case TypeEcsCluster:
		return p.deleteEcsCluster(ctx, externalID)
	case TypeTaskDefinition:
		return p.deleteTaskDefinition(ctx, externalID)
	case TypeEcsService:
		return p.deleteEcsService(ctx, externalID)
	case TypeLoadBalancer:
		return p.deleteLoadBalancer(ctx, externalID)
	case TypeTargetGroup:
		return p.deleteTargetGroup(ctx, externalID)
	case TypeListener:
		return p.deleteListener(ctx, externalID)
	case TypeCertificate:
		return p.deleteCertificate(ctx, externalID)
	case TypeRoute53Record:
		return p.deleteRoute53Record(ctx, externalID)
	case TypeIamRole:
		return p.deleteIamRole(ctx, externalID)
	default:
		return fmt.Errorf("unsupported resource type %q", typ)
	}
}

// decode maps a property bag onto a typed config struct via JSON tags.
func decode(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// notFoundCodes are API error codes that mean the resource is gone rather
// than the call having failed.
var notFoundCodes = map[string]bool{
	"InvalidVpcID.NotFound":             true,
	"InvalidSubnetID.NotFound":          true,
	"InvalidInternetGatewayID.NotFound": true,
	"InvalidRouteTableID.NotFound":      true,
	"InvalidGroup.NotFound":             true,
	"DBInstanceNotFound":                true,
	"DBInstanceNotFoundFault":           true,
	"ClusterNotFoundException":          true,
	"ServiceNotFoundException":          true,
	"LoadBalancerNotFound":              true,
	"TargetGroupNotFound":               true,
	"ListenerNotFound":                  true,
	"ResourceNotFoundException":         true,
	"NoSuchEntity":                      true,
	"NoSuchHostedZone":                  true,
}

func isNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return notFoundCodes[ae.ErrorCode()]
	}
	return false
}

// retryableCodes cover throttling and transient faults worth a backoff.
var retryableCodes = map[string]bool{
	"Throttling":                    true,
	"ThrottlingException":           true,
	"RequestLimitExceeded":          true,
	"TooManyRequestsException":      true,
	"RequestThrottled":              true,
	"InternalError":                 true,
	"InternalFailure":               true,
	"ServiceUnavailable":            true,
	"ServiceUnavailableException":   true,
	"PriorRequestNotComplete":       true,
	"DependencyViolation":           true,
	"InvalidParameterDependency":    true,
	"ResourceInUseException":        true,
	"OperationAbortedException":     true,
	"ConcurrentModificationException": true,
}

func wrapErr(op, typ string, err error) error {
	retryable := false
	var ae smithy.APIError
	if errors.As(err, &ae) {
		retryable = retryableCodes[ae.ErrorCode()] || ae.ErrorFault() == smithy.FaultServer
		if !retryable {
			msg := strings.ToLower(ae.ErrorMessage())
			retryable = strings.Contains(msg, "throttl") || strings.Contains(msg, "rate exceeded")
		}
	}
	return &provider.Error{
		Provider:  "aws",
		Type:      typ,
		Op:        op,
		Retryable: retryable,
		Err:       err,
	}
}

func strPtr(s string) *string { return &s }

func int32Ptr(i int) *int32 {
	v := int32(i)
	return &v
}

func boolPtr(b bool) *bool { return &b }
