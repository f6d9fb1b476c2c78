package grid

import (
	"fmt"
	"math"
)

// Subdivider replaces an undersampled point with a denser sub-grid of smaller
// circles confined to the point's footprint.
type Subdivider struct {
	radiusFactor  float64
	overlapFactor float64
	maxDepth      int
}

// NewSubdivider validates cfg and returns a Subdivider.
func NewSubdivider(cfg Config) (*Subdivider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Subdivider{
		radiusFactor:  cfg.RadiusFactor,
		overlapFactor: cfg.OverlapFactor,
		maxDepth:      cfg.MaxDepth,
	}, nil
}

// Eligible reports whether p may be subdivided without exceeding the
// configured refinement depth.
func (s *Subdivider) Eligible(p GridPoint) bool {
	return p.Depth < s.maxDepth
}

// Spacing returns the lattice spacing for sub-points of radius r inside a
// parent of radius parent: the widest step no larger than r/overlap that
// divides the parent radius evenly, so the outermost lattice centres land on
// the parent circle. With radius_factor at most maxRadiusFactor every point
// of the parent disc is then within r of a kept centre.
func (s *Subdivider) Spacing(parent, r float64) float64 {
	n := math.Ceil(parent*s.overlapFactor/r - 1e-9)
	return parent / n
}

// Subdivide returns the refinement points for p, scanned row-major from the
// south-west. Each sub-point has radius p.Radius/radius_factor, its center
// inside p's circle, and ParentID set to p.ID.
func (s *Subdivider) Subdivide(p GridPoint) []GridPoint {
	r := p.Radius / s.radiusFactor
	spacing := s.Spacing(p.Radius, r)
	n := int(math.Round(p.Radius / spacing))
	limit := p.Radius * (1 + 1e-9)

	out := make([]GridPoint, 0, (2*n+1)*(2*n+1))
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			dn, de := float64(i)*spacing, float64(j)*spacing
			if math.Hypot(dn, de) > limit {
				continue
			}
			c := offset(p.Center, dn, de)
			// Diagonal offsets drift a few metres from the great-circle
			// distance at large radii; pull boundary centres back inside.
			if d := Distance(p.Center, c); d > p.Radius {
				k := p.Radius / d
				c = offset(p.Center, dn*k, de*k)
			}
			out = append(out, GridPoint{
				ID:       fmt.Sprintf("%s/r%03d", p.ID, len(out)),
				Center:   c,
				Radius:   r,
				Tier:     TierRefinement,
				ParentID: p.ID,
				Depth:    p.Depth + 1,
			})
		}
	}
	return out
}
