package scenario

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// MaxSampleRetries bounds the number of draws before sampling gives up.
	MaxSampleRetries = 32
	// FirstObstacleWindow is the leading fraction of the airspace's y-range
	// the first obstacle is placed in.
	FirstObstacleWindow = 1.0 / 6

	coverageSubdivisions = 4
	sideEpsilon          = 0.1
	shrink               = 0.999
)

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: rng}.Rand()
}

// candidates are the path points an obstacle may be centred on. The first
// obstacle is limited to the points before the path first crosses the leading
// FirstObstacleWindow of the airspace's y-range.
func (s State) candidates(m *Mission, path Path) Path {
	if len(path) == 0 {
		path = m.Nominal()
	}
	a := m.Airspace
	cut := a.Min.Y + FirstObstacleWindow*(a.Max.Y-a.Min.Y)

	var inside Path
	for _, p := range path {
		if len(s.obstacles) == 0 && p.Y > cut {
			break
		}
		if a.Contains(p) {
			inside = append(inside, p)
		}
	}
	return inside
}

// maxRadius caps the sampling circle so that the rectangle fits the maximum extents.
func maxRadius(a Airspace) float64 {
	limit := math.Inf(1)
	if a.MaxSize.L > 0 {
		limit = math.Min(limit, a.MaxSize.L/2)
	}
	if a.MaxSize.W > 0 {
		limit = math.Min(limit, a.MaxSize.W/2)
	}
	return limit
}

// randomRectangle draws a rectangle centred at c whose corners lie on the
// circle of the given radius.
func randomRectangle(c r2.Vec, radius float64, a Airspace, rng *rand.Rand) Obstacle {
	length := uniform(rng, sideEpsilon*radius, (1-sideEpsilon)*radius)
	width := math.Sqrt(radius*radius - length*length)
	rotation := uniform(rng, a.Min.R, a.Max.R)
	return NewObstacle(c.X, c.Y, shrink*2*length, shrink*2*width, a.MaxSize.H, rotation)
}

// SampleChildObstacle draws a new obstacle around a random point of path (the
// mission's nominal path when empty) that fits in the airspace, keeps clear of
// the start and end zones and does not intersect the obstacles already placed.
// It returns ErrSamplingExhausted when no valid obstacle is found within
// MaxSampleRetries draws.
func (s State) SampleChildObstacle(m *Mission, path Path, rng *rand.Rand) (Obstacle, error) {
	if s.IsTerminal() {
		return Obstacle{}, ErrTerminalState
	}
	candidates := s.candidates(m, path)
	if len(candidates) == 0 {
		return Obstacle{}, fmt.Errorf("%w: no path point inside the airspace", ErrSamplingExhausted)
	}

	others := s.coverage()
	for attempt := 0; attempt < MaxSampleRetries; attempt++ {
		c := candidates[rng.IntN(len(candidates))]
		radius := feasibleRadius(c, m.Airspace, others)
		if len(others) > 0 {
			radius *= uniform(rng, 0.5, 0.9)
		}
		radius = math.Min(radius, maxRadius(m.Airspace))
		if radius <= 0 {
			continue
		}
		o := randomRectangle(c, radius, m.Airspace, rng)
		if err := o.Validate(m); err != nil {
			continue
		}
		return o, nil
	}
	return Obstacle{}, fmt.Errorf("%w after %d attempts", ErrSamplingExhausted, MaxSampleRetries)
}

// SampleVariation proposes a replacement for the last obstacle: it is moved
// halfway towards the closest point of path and turned to face it, sized to
// stay clear of the other obstacles. When no such placement exists the last
// obstacle is only given a random new rotation.
func (s State) SampleVariation(m *Mission, path Path, rng *rand.Rand) (Obstacle, error) {
	last, ok := s.Last()
	if !ok {
		return Obstacle{}, ErrEmptyState
	}
	if len(path) == 0 {
		path = m.Nominal()
	}
	others := State{obstacles: s.obstacles[:len(s.obstacles)-1]}.coverage()

	if idx, distance := path.Closest(last.Center()); idx >= 0 && distance > 0 {
		closest := path[idx]
		rotation := approachAngle(last.Center(), closest)
		center := r2.Scale(0.5, r2.Add(closest, last.Center()))

		radius := feasibleRadius(center, m.Airspace, others) * uniform(rng, 0.5, 0.9)
		radius = min(radius, distance/2, maxRadius(m.Airspace))
		if radius > 0 {
			rect := randomRectangle(center, radius, m.Airspace, rng)
			long := math.Max(rect.Size.L, rect.Size.W)
			short := math.Min(rect.Size.L, rect.Size.W)
			o := NewObstacle(center.X, center.Y, long, short, m.Airspace.MaxSize.H, rotation)
			if rotation > 90 {
				o = NewObstacle(center.X, center.Y, short, long, m.Airspace.MaxSize.H, rotation-90)
			}
			if o.Validate(m) == nil {
				return o, nil
			}
		}
	}

	for attempt := 0; attempt < MaxSampleRetries; attempt++ {
		o := last
		o.Position.R = uniform(rng, m.Airspace.Min.R, m.Airspace.Max.R)
		o.Size.H = m.Airspace.MaxSize.H
		if o.Key() != last.Key() && o.Validate(m) == nil && !overlaps(o, others) {
			return o, nil
		}
	}
	return Obstacle{}, fmt.Errorf("%w: no variation of %s", ErrSamplingExhausted, last)
}

// overlaps reports whether the coverage circles of o intersect any of others.
func overlaps(o Obstacle, others []Circle) bool {
	for _, c := range o.Footprint().Coverage(coverageSubdivisions) {
		for _, other := range others {
			if r2.Norm(r2.Sub(c.Center, other.Center)) < c.Radius+other.Radius {
				return true
			}
		}
	}
	return false
}
