package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rds"
)

type dbInstanceConfig struct {
	Identifier         string   `json:"identifier"`
	Engine             string   `json:"engine"`
	EngineVersion      string   `json:"engineVersion"`
	InstanceClass      string   `json:"instanceClass"`
	AllocatedStorage   int      `json:"allocatedStorage"`
	MasterUsername     string   `json:"masterUsername"`
	MasterUserPassword string   `json:"masterUserPassword"`
	DBName             string   `json:"dbName"`
	SecurityGroupIDs   []string `json:"securityGroupIds"`
	SkipFinalSnapshot  bool     `json:"skipFinalSnapshot"`
}

const dbInstanceWaitTimeout = 20 * time.Minute

func (p *Provider) createDBInstance(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired dbInstanceConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: &desired.Identifier,
		Engine:               &desired.Engine,
		DBInstanceClass:      &desired.InstanceClass,
		AllocatedStorage:     int32Ptr(desired.AllocatedStorage),
		MasterUsername:       &desired.MasterUsername,
		MasterUserPassword:   &desired.MasterUserPassword,
	}
	if desired.EngineVersion != "" {
		input.EngineVersion = &desired.EngineVersion
	}
	if desired.DBName != "" {
		input.DBName = &desired.DBName
	}
	if len(desired.SecurityGroupIDs) > 0 {
		input.VpcSecurityGroupIds = desired.SecurityGroupIDs
	}

	resp, err := p.rdsClient.CreateDBInstance(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeDBInstance, err)
	}
	identifier := *resp.DBInstance.DBInstanceIdentifier

	// Block until the instance is reachable; dependents need the endpoint.
	waiter := rds.NewDBInstanceAvailableWaiter(p.rdsClient)
	if err := waiter.Wait(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: &identifier,
	}, dbInstanceWaitTimeout); err != nil {
		return identifier, nil, wrapErr("create", TypeDBInstance, fmt.Errorf("waiting for availability: %w", err))
	}

	outputs, _, err := p.readDBInstance(ctx, identifier)
	if err != nil {
		return identifier, nil, err
	}
	return identifier, outputs, nil
}

func (p *Provider) readDBInstance(ctx context.Context, identifier string) (map[string]any, bool, error) {
	resp, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: &identifier,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeDBInstance, err)
	}
	if len(resp.DBInstances) == 0 {
		return nil, false, nil
	}
	db := resp.DBInstances[0]

	outputs := map[string]any{
		"id":         *db.DBInstanceIdentifier,
		"identifier": *db.DBInstanceIdentifier,
		"arn":        deref(db.DBInstanceArn),
		"status":     deref(db.DBInstanceStatus),
	}
	if db.Endpoint != nil {
		outputs["endpoint"] = deref(db.Endpoint.Address)
		if db.Endpoint.Port != nil {
			outputs["port"] = int(*db.Endpoint.Port)
		}
	}
	return outputs, true, nil
}

func (p *Provider) updateDBInstance(ctx context.Context, identifier string, config map[string]any) (map[string]any, error) {
	var desired dbInstanceConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	input := &rds.ModifyDBInstanceInput{
		DBInstanceIdentifier: &identifier,
		ApplyImmediately:     boolPtr(true),
	}
	if desired.InstanceClass != "" {
		input.DBInstanceClass = &desired.InstanceClass
	}
	if desired.AllocatedStorage > 0 {
		input.AllocatedStorage = int32Ptr(desired.AllocatedStorage)
	}
	if desired.MasterUserPassword != "" {
		input.MasterUserPassword = &desired.MasterUserPassword
	}
	if len(desired.SecurityGroupIDs) > 0 {
		input.VpcSecurityGroupIds = desired.SecurityGroupIDs
	}

	if _, err := p.rdsClient.ModifyDBInstance(ctx, input); err != nil {
		return nil, wrapErr("update", TypeDBInstance, err)
	}

	waiter := rds.NewDBInstanceAvailableWaiter(p.rdsClient)
	if err := waiter.Wait(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: &identifier,
	}, dbInstanceWaitTimeout); err != nil {
		return nil, wrapErr("update", TypeDBInstance, fmt.Errorf("waiting for availability: %w", err))
	}

	outputs, _, err := p.readDBInstance(ctx, identifier)
	return outputs, err
}

func (p *Provider) deleteDBInstance(ctx context.Context, identifier string) error {
	_, err := p.rdsClient.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: &identifier,
		SkipFinalSnapshot:    boolPtr(true),
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeDBInstance, err)
	}
	return nil
}
