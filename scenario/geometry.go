package scenario

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

// Rect is a rectangle of full length L and width W centred at Center and
// rotated counterclockwise by R degrees.
type Rect struct {
	Center r2.Vec
	L, W   float64
	R      float64
}

// Circle is used to approximate rectangles for intersection tests.
type Circle struct {
	Center r2.Vec
	Radius float64
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// rotate turns v counterclockwise by the given angle in degrees.
func rotate(v r2.Vec, deg float64) r2.Vec {
	sin, cos := math.Sincos(radians(deg))
	return r2.Vec{X: cos*v.X - sin*v.Y, Y: sin*v.X + cos*v.Y}
}

// local expresses p in the rectangle's own frame.
func (r Rect) local(p r2.Vec) r2.Vec {
	return rotate(r2.Sub(p, r.Center), -r.R)
}

func (r Rect) Corners() [4]r2.Vec {
	hl, hw := r.L/2, r.W/2
	offsets := [4]r2.Vec{{X: -hl, Y: -hw}, {X: hl, Y: -hw}, {X: hl, Y: hw}, {X: -hl, Y: hw}}
	var corners [4]r2.Vec
	for i, c := range offsets {
		corners[i] = r2.Add(r.Center, rotate(c, r.R))
	}
	return corners
}

func (r Rect) Contains(p r2.Vec) bool {
	q := r.local(p)
	return math.Abs(q.X) <= r.L/2 && math.Abs(q.Y) <= r.W/2
}

// Distance from p to the rectangle; zero when p is inside.
func (r Rect) Distance(p r2.Vec) float64 {
	q := r.local(p)
	dx := math.Max(math.Abs(q.X)-r.L/2, 0)
	dy := math.Max(math.Abs(q.Y)-r.W/2, 0)
	return math.Hypot(dx, dy)
}

// Enclosing is the smallest circle around the rectangle.
func (r Rect) Enclosing() Circle {
	return Circle{Center: r.Center, Radius: math.Hypot(r.L/2, r.W/2)}
}

// Coverage approximates the rectangle by the enclosing circles of its n×n
// sub-rectangles. Larger n gives a tighter approximation.
func (r Rect) Coverage(n int) []Circle {
	if n < 1 {
		n = 1
	}
	sl, sw := r.L/float64(n), r.W/float64(n)
	circles := make([]Circle, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			offset := r2.Vec{
				X: -r.L/2 + (float64(i)+0.5)*sl,
				Y: -r.W/2 + (float64(j)+0.5)*sw,
			}
			sub := Rect{Center: r2.Add(r.Center, rotate(offset, r.R)), L: sl, W: sw, R: r.R}
			circles = append(circles, sub.Enclosing())
		}
	}
	return circles
}

// Path is a polyline on the ground plane, usually densely sampled.
type Path []r2.Vec

// Densify inserts points along each segment so that consecutive points are at
// most spacing apart.
func Densify(corners []r2.Vec, spacing float64) Path {
	if len(corners) == 0 {
		return nil
	}
	path := Path{corners[0]}
	for i := 1; i < len(corners); i++ {
		from, to := corners[i-1], corners[i]
		steps := int(math.Ceil(r2.Norm(r2.Sub(to, from)) / spacing))
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps)
			path = append(path, r2.Add(from, r2.Scale(t, r2.Sub(to, from))))
		}
	}
	return path
}

// Closest returns the index of the path point nearest to p and its distance.
// An empty path yields index -1.
func (p Path) Closest(q r2.Vec) (int, float64) {
	if len(p) == 0 {
		return -1, math.Inf(1)
	}
	distances := make([]float64, len(p))
	for i, v := range p {
		distances[i] = r2.Norm(r2.Sub(v, q))
	}
	idx := floats.MinIdx(distances)
	return idx, distances[idx]
}

// DistanceTo is the minimum distance between the path points and the rectangle.
func (p Path) DistanceTo(r Rect) float64 {
	best := math.Inf(1)
	for _, v := range p {
		if d := r.Distance(v); d < best {
			best = d
		}
	}
	return best
}

// Within keeps the path points strictly inside the airspace.
func (p Path) Within(a Airspace) Path {
	var kept Path
	for _, v := range p {
		if a.Contains(v) {
			kept = append(kept, v)
		}
	}
	return kept
}

// feasibleRadius is the largest radius of a circle centred at c that stays in
// the airspace and does not intersect any of the given circles.
func feasibleRadius(c r2.Vec, a Airspace, others []Circle) float64 {
	radius := a.BoundaryDistance(c)
	for _, o := range others {
		radius = math.Min(radius, r2.Norm(r2.Sub(o.Center, c))-o.Radius)
	}
	return radius
}

// approachAngle is the angle in degrees, within [0, 180], between the x-axis
// and the vector from `from` to `to`.
func approachAngle(from, to r2.Vec) float64 {
	v := r2.Sub(to, from)
	n := r2.Norm(v)
	if n == 0 {
		return 0
	}
	return degrees(math.Acos(v.X / n))
}
