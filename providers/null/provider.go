// Package null implements a provider with no external side effects. Its
// null_resource is useful for glue dependencies and for exercising the
// engine in tests.
package null

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/terrane-io/terrane/internal/provider"
)

const TypeResource = "null_resource"

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func init() {
	provider.RegisterFactory("null", func() provider.Interface { return New() })
}

func (p *Provider) Configure(ctx context.Context) error {
	return nil
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		TypeResource: {
			Attributes: map[string]provider.Attribute{
				"triggers": {ForceNew: true},
			},
			CreateBeforeDestroy: true,
		},
	}
}

func (p *Provider) Create(ctx context.Context, typ string, config map[string]any) (string, map[string]any, error) {
	if typ != TypeResource {
		return "", nil, fmt.Errorf("unknown resource type: %s", typ)
	}
	id := "null-" + uuid.New().String()
	outputs := map[string]any{"id": id}
	if triggers, ok := config["triggers"]; ok {
		outputs["triggers"] = triggers
	}
	return id, outputs, nil
}

func (p *Provider) Read(ctx context.Context, typ, externalID string) (map[string]any, bool, error) {
	// Null resources have no external existence beyond their record.
	return map[string]any{"id": externalID}, true, nil
}

func (p *Provider) Update(ctx context.Context, typ, externalID string, config map[string]any) (map[string]any, error) {
	outputs := map[string]any{"id": externalID}
	if triggers, ok := config["triggers"]; ok {
		outputs["triggers"] = triggers
	}
	return outputs, nil
}

func (p *Provider) Delete(ctx context.Context, typ, externalID string) error {
	return nil
}
