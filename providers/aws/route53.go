package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
)

type aliasTarget struct {
	DNSName              string `json:"dnsName"`
	HostedZoneID         string `json:"hostedZoneId"`
	EvaluateTargetHealth bool   `json:"evaluateTargetHealth"`
}

type recordSetConfig struct {
	ZoneID  string       `json:"zoneId"`
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	TTL     int          `json:"ttl"`
	Records []string     `json:"records"`
	Alias   *aliasTarget `json:"alias"`
}

// Record sets have no server-assigned ID; "<zoneId>:<name>:<type>" is
// sufficient to address one for update and delete.
func recordID(zoneID, name, typ string) string {
	return zoneID + ":" + name + ":" + typ
}

func splitRecordID(id string) (zoneID, name, typ string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed record id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}

func buildRecordSet(desired recordSetConfig) *types.ResourceRecordSet {
	rs := &types.ResourceRecordSet{
		Name: &desired.Name,
		Type: types.RRType(desired.Type),
	}
	if desired.Alias != nil {
		rs.AliasTarget = &types.AliasTarget{
			DNSName:              &desired.Alias.DNSName,
			HostedZoneId:         &desired.Alias.HostedZoneID,
			EvaluateTargetHealth: desired.Alias.EvaluateTargetHealth,
		}
		return rs
	}
	ttl := int64(desired.TTL)
	if ttl == 0 {
		ttl = 300
	}
	rs.TTL = &ttl
	for _, r := range desired.Records {
		rs.ResourceRecords = append(rs.ResourceRecords, types.ResourceRecord{Value: strPtr(r)})
	}
	return rs
}

func (p *Provider) changeRecord(ctx context.Context, zoneID string, action types.ChangeAction, rs *types.ResourceRecordSet) error {
	_, err := p.route53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: &zoneID,
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: rs}},
		},
	})
	return err
}

func (p *Provider) createRoute53Record(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired recordSetConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	if err := p.changeRecord(ctx, desired.ZoneID, types.ChangeActionUpsert, buildRecordSet(desired)); err != nil {
		return "", nil, wrapErr("create", TypeRoute53Record, err)
	}

	id := recordID(desired.ZoneID, desired.Name, desired.Type)
	return id, map[string]any{
		"id":   id,
		"name": desired.Name,
		"fqdn": strings.TrimSuffix(desired.Name, "."),
	}, nil
}

func (p *Provider) updateRoute53Record(ctx context.Context, id string, config map[string]any) (map[string]any, error) {
	var desired recordSetConfig
	if err := decode(config, &desired); err != nil {
		return nil, err
	}

	if err := p.changeRecord(ctx, desired.ZoneID, types.ChangeActionUpsert, buildRecordSet(desired)); err != nil {
		return nil, wrapErr("update", TypeRoute53Record, err)
	}
	return map[string]any{
		"id":   id,
		"name": desired.Name,
		"fqdn": strings.TrimSuffix(desired.Name, "."),
	}, nil
}

func (p *Provider) deleteRoute53Record(ctx context.Context, id string) error {
	zoneID, name, typ, err := splitRecordID(id)
	if err != nil {
		return err
	}

	// Deletion requires the full record set; look it up first.
	resp, err := p.route53Client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    &zoneID,
		StartRecordName: &name,
		StartRecordType: types.RRType(typ),
		MaxItems:        int32Ptr(1),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return wrapErr("delete", TypeRoute53Record, err)
	}
	for _, rs := range resp.ResourceRecordSets {
		if deref(rs.Name) != dnsName(name) || string(rs.Type) != typ {
			continue
		}
		rsCopy := rs
		if err := p.changeRecord(ctx, zoneID, types.ChangeActionDelete, &rsCopy); err != nil && !isNotFound(err) {
			return wrapErr("delete", TypeRoute53Record, err)
		}
	}
	return nil
}

// dnsName normalizes to the trailing-dot form Route53 returns.
func dnsName(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
