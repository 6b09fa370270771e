package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"
)

type certificateConfig struct {
	DomainName              string            `json:"domainName"`
	SubjectAlternativeNames []string          `json:"subjectAlternativeNames"`
	ValidationMethod        string            `json:"validationMethod"`
	Tags                    map[string]string `json:"tags"`
}

func (p *Provider) createCertificate(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired certificateConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	input := &acm.RequestCertificateInput{
		DomainName:       &desired.DomainName,
		ValidationMethod: types.ValidationMethod(desired.ValidationMethod),
	}
	if len(desired.SubjectAlternativeNames) > 0 {
		input.SubjectAlternativeNames = desired.SubjectAlternativeNames
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: strPtr(k), Value: strPtr(v)})
	}

	resp, err := p.acmClient.RequestCertificate(ctx, input)
	if err != nil {
		return "", nil, wrapErr("create", TypeCertificate, err)
	}

	arn := *resp.CertificateArn
	outputs := map[string]any{
		"id":         arn,
		"arn":        arn,
		"domainName": desired.DomainName,
	}

	// Surface the DNS validation records so a route53 record can reference
	// them and complete validation.
	desc, err := p.acmClient.DescribeCertificate(ctx, &acm.DescribeCertificateInput{CertificateArn: &arn})
	if err == nil && desc.Certificate != nil {
		for _, dv := range desc.Certificate.DomainValidationOptions {
			if dv.ResourceRecord != nil {
				outputs["validationRecordName"] = deref(dv.ResourceRecord.Name)
				outputs["validationRecordValue"] = deref(dv.ResourceRecord.Value)
				outputs["validationRecordType"] = string(dv.ResourceRecord.Type)
				break
			}
		}
	}
	return arn, outputs, nil
}

func (p *Provider) readCertificate(ctx context.Context, arn string) (map[string]any, bool, error) {
	resp, err := p.acmClient.DescribeCertificate(ctx, &acm.DescribeCertificateInput{CertificateArn: &arn})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, wrapErr("read", TypeCertificate, err)
	}
	cert := resp.Certificate
	return map[string]any{
		"id":         arn,
		"arn":        arn,
		"domainName": deref(cert.DomainName),
		"status":     string(cert.Status),
	}, true, nil
}

func (p *Provider) deleteCertificate(ctx context.Context, arn string) error {
	_, err := p.acmClient.DeleteCertificate(ctx, &acm.DeleteCertificateInput{CertificateArn: &arn})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", TypeCertificate, err)
	}
	return nil
}
