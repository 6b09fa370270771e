package ir

import "fmt"

// Resource is a single declared resource.
type Resource struct {
	Type       string         `pkl:"type" json:"type"` // e.g. "aws_vpc"
	Name       string         `pkl:"name" json:"name"`
	Provider   string         `pkl:"provider" json:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle" json:"lifecycle,omitempty"`
	DependsOn  []string       `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Count      int            `pkl:"count" json:"count,omitempty"`
	ForEach    []string       `pkl:"forEach" json:"forEach,omitempty"`
	Timeout    string         `pkl:"timeout" json:"timeout,omitempty"`
	Properties map[string]any `pkl:"properties" json:"properties"`
}

// Addr returns the resource address (type.name).
func (r *Resource) Addr() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" json:"ignoreChanges,omitempty"`
}
