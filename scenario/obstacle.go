package scenario

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Position places an obstacle's footprint centre at (X, Y) with its base at Z.
// R is the yaw rotation in degrees, counterclockwise from the x-axis.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
	R float64 `yaml:"r" json:"r"`
}

// Size holds the full length (along the rotated x-axis), width and height of an obstacle.
type Size struct {
	L float64 `yaml:"l" json:"l"`
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// Obstacle is a box standing on the ground. It is a value type: copies never alias.
type Obstacle struct {
	Size     Size     `yaml:"size" json:"size"`
	Position Position `yaml:"position" json:"position"`
}

func NewObstacle(x, y, l, w, h, r float64) Obstacle {
	return Obstacle{
		Size:     Size{L: l, W: w, H: h},
		Position: Position{X: x, Y: y, R: r},
	}
}

// Center is the footprint centre in the horizontal plane.
func (o Obstacle) Center() r2.Vec {
	return r2.Vec{X: o.Position.X, Y: o.Position.Y}
}

// Footprint is the rotated rectangle the obstacle occupies on the ground.
func (o Obstacle) Footprint() Rect {
	return Rect{Center: o.Center(), L: o.Size.L, W: o.Size.W, R: o.Position.R}
}

// Key is a canonical representation of the obstacle parameters, used to tell
// sibling samples apart.
func (o Obstacle) Key() string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f,%.3f,%.3f",
		o.Position.X, o.Position.Y, o.Size.L, o.Size.W, o.Size.H, o.Position.R)
}

func (o Obstacle) String() string {
	return fmt.Sprintf("(x=%.2f, y=%.2f, l=%.2f, w=%.2f, r=%.2f)",
		o.Position.X, o.Position.Y, o.Size.L, o.Size.W, o.Position.R)
}

// Validate checks the hard constraints an obstacle must satisfy within a mission:
// it lies inside the airspace, its size is within the configured extents and it
// stays clear of the vehicle's start and end zones.
func (o Obstacle) Validate(m *Mission) error {
	if !finite(o.Position.X, o.Position.Y, o.Position.Z, o.Position.R, o.Size.L, o.Size.W, o.Size.H) {
		return fmt.Errorf("%w: non-finite parameters %s", ErrInvalidObstacle, o)
	}
	if o.Size.L <= 0 || o.Size.W <= 0 || o.Size.H <= 0 {
		return fmt.Errorf("%w: non-positive size %s", ErrInvalidObstacle, o)
	}

	a := m.Airspace
	if exceeds(o.Size.L, a.MaxSize.L) || exceeds(o.Size.W, a.MaxSize.W) || exceeds(o.Size.H, a.MaxSize.H) {
		return fmt.Errorf("%w: size of %s exceeds the maximum extents", ErrInvalidObstacle, o)
	}
	if o.Size.L < a.MinSize.L || o.Size.W < a.MinSize.W || o.Size.H < a.MinSize.H {
		return fmt.Errorf("%w: size of %s is below the minimum extents", ErrInvalidObstacle, o)
	}
	if o.Position.R < a.Min.R || o.Position.R > a.Max.R {
		return fmt.Errorf("%w: rotation %.2f outside [%.2f, %.2f]", ErrInvalidObstacle, o.Position.R, a.Min.R, a.Max.R)
	}

	footprint := o.Footprint()
	for _, corner := range footprint.Corners() {
		if corner.X < a.Min.X || corner.X > a.Max.X || corner.Y < a.Min.Y || corner.Y > a.Max.Y {
			return fmt.Errorf("%w: %s leaves the airspace", ErrInvalidObstacle, o)
		}
	}

	if a.KeepOut > 0 {
		for _, zone := range []r2.Vec{flatten(m.Start), flatten(m.End)} {
			if footprint.Distance(zone) < a.KeepOut {
				return fmt.Errorf("%w: %s within %.2fm of the start/end zone", ErrInvalidObstacle, o, a.KeepOut)
			}
		}
	}
	return nil
}

// exceeds treats a zero limit as unbounded.
func exceeds(value, limit float64) bool {
	return limit > 0 && value > limit
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
