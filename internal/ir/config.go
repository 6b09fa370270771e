package ir

// Config is the top-level evaluated configuration.
type Config struct {
	Environment string         `pkl:"environment"`
	Resources   []*Resource    `pkl:"resources"`
	Outputs     map[string]any `pkl:"outputs"`
}
