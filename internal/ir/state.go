package ir

import "fmt"

// State is the persisted record of everything the engine manages.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the last-applied record of one resource.
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	ExternalID   string         `json:"externalId,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	InputsHash   string         `json:"inputsHash"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Addr returns the state record's resource address (type.name).
func (r *ResourceState) Addr() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

// Lookup returns the record at the given address, or nil.
func (s *State) Lookup(addr string) *ResourceState {
	for _, r := range s.Resources {
		if r.Addr() == addr {
			return r
		}
	}
	return nil
}

// Put inserts or replaces the record at rec's address.
func (s *State) Put(rec *ResourceState) {
	for i, r := range s.Resources {
		if r.Addr() == rec.Addr() {
			s.Resources[i] = rec
			return
		}
	}
	s.Resources = append(s.Resources, rec)
}

// Remove deletes the record at the given address, if present.
func (s *State) Remove(addr string) {
	for i, r := range s.Resources {
		if r.Addr() == addr {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}
