package grid

import "fmt"

// MaxRadius is the largest search radius the provider accepts, in metres.
const MaxRadius = 5000.0

// maxDepthLimit bounds recursive refinement so a run always terminates.
const maxDepthLimit = 3

// maxRadiusFactor bounds how small sub-points may get relative to their
// parent; the sub-grid leaves no gaps up to this ratio.
const maxRadiusFactor = 6

// Config holds the tunable grid parameters. It is passed by value into every
// component at construction and never read from ambient state.
type Config struct {
	// InitialRadius is the query radius of standard grid points, in metres.
	InitialRadius float64 `json:"initial_radius"`
	// Step is the spacing between standard grid points, in metres.
	Step float64 `json:"step"`
	// MaxRadius is the provider ceiling; InitialRadius above it is rejected.
	MaxRadius float64 `json:"max_radius"`
	// Threshold is the raw result count at which a point is refined.
	Threshold int `json:"threshold"`
	// NearLimit is the raw result count logged as probable truncation.
	NearLimit int `json:"near_limit"`
	// RadiusFactor divides the parent radius to obtain the sub-point radius.
	RadiusFactor float64 `json:"radius_factor"`
	// OverlapFactor densifies the sub-grid; values >= 1 leave no gaps.
	OverlapFactor float64 `json:"overlap_factor"`
	// MaxDepth is how many refinement levels may be stacked. 0 disables refinement.
	MaxDepth int `json:"max_depth"`
}

// DefaultConfig returns the parameters tuned against the Places Nearby Search
// cap of 60 results (3 pages of 20).
func DefaultConfig() Config {
	return Config{
		InitialRadius: 750,
		Step:          750,
		MaxRadius:     MaxRadius,
		Threshold:     45,
		NearLimit:     58,
		RadiusFactor:  3,
		OverlapFactor: 1,
		MaxDepth:      1,
	}
}

// Validate checks the configuration and returns a *ConfigError on the first
// invalid field.
func (c Config) Validate() error {
	maxRadius := c.MaxRadius
	if maxRadius <= 0 {
		maxRadius = MaxRadius
	}
	switch {
	case c.InitialRadius <= 0:
		return &ConfigError{Field: "initial_radius", Value: c.InitialRadius, Reason: "must be positive"}
	case c.InitialRadius > maxRadius:
		return &ConfigError{Field: "initial_radius", Value: c.InitialRadius, Reason: fmt.Sprintf("exceeds provider maximum of %.0fm", maxRadius)}
	case c.Step <= 0:
		return &ConfigError{Field: "step", Value: c.Step, Reason: "must be positive"}
	case c.Threshold <= 0:
		return &ConfigError{Field: "threshold", Value: c.Threshold, Reason: "must be positive"}
	case c.RadiusFactor <= 1 || c.RadiusFactor > maxRadiusFactor:
		return &ConfigError{Field: "radius_factor", Value: c.RadiusFactor, Reason: fmt.Sprintf("must be greater than 1 and at most %d", maxRadiusFactor)}
	case c.OverlapFactor < 1:
		return &ConfigError{Field: "overlap_factor", Value: c.OverlapFactor, Reason: "must be at least 1.0 to avoid coverage gaps"}
	case c.MaxDepth < 0 || c.MaxDepth > maxDepthLimit:
		return &ConfigError{Field: "max_depth", Value: c.MaxDepth, Reason: fmt.Sprintf("must be between 0 and %d", maxDepthLimit)}
	}
	return nil
}
