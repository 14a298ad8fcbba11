package ir

// Config is the decoded top-level configuration.
type Config struct {
	Resources []*Declaration `pkl:"resources"`
	Outputs   map[string]any `pkl:"outputs"`
}
