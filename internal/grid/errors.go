package grid

import "fmt"

// ConfigError reports an invalid radius, area or category detected before a
// run starts. It is always fatal.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("grid: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
