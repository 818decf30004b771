package scenario

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// SampleSpacing is the distance in metres between consecutive points of a
// densified path.
const SampleSpacing = 1.0

// Airspace bounds the volume obstacles may occupy. Min.R and Max.R bound the
// obstacle rotation.
type Airspace struct {
	Min     Position `yaml:"min" json:"min"`
	Max     Position `yaml:"max" json:"max"`
	MinSize Size     `yaml:"min_size" json:"min_size"`
	MaxSize Size     `yaml:"max_size" json:"max_size"`
	// KeepOut is the radius around the start and end positions no obstacle may enter.
	KeepOut float64 `yaml:"keep_out" json:"keep_out"`
}

// Contains reports whether p lies inside the horizontal extent of the airspace.
func (a Airspace) Contains(p r2.Vec) bool {
	return p.X > a.Min.X && p.X < a.Max.X && p.Y > a.Min.Y && p.Y < a.Max.Y
}

// BoundaryDistance is the distance from p to the closest airspace edge.
func (a Airspace) BoundaryDistance(p r2.Vec) float64 {
	return min(a.Max.Y-p.Y, p.Y-a.Min.Y, p.X-a.Min.X, a.Max.X-p.X)
}

// Mission describes the planned flight. It is read-only once loaded.
type Mission struct {
	Name      string   `yaml:"name" json:"name"`
	Start     r3.Vec   `yaml:"-" json:"start"`
	End       r3.Vec   `yaml:"-" json:"end"`
	Waypoints []r3.Vec `yaml:"-" json:"waypoints"`
	Airspace  Airspace `yaml:"airspace" json:"airspace"`
}

type point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type missionFile struct {
	Name      string   `yaml:"name"`
	Start     point    `yaml:"start"`
	End       point    `yaml:"end"`
	Waypoints []point  `yaml:"waypoints"`
	Airspace  Airspace `yaml:"airspace"`
}

// LoadMission reads a mission description from a YAML file.
func LoadMission(path string) (*Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mission %s: %w", path, err)
	}
	m, err := ParseMission(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission %s: %w", path, err)
	}
	return m, nil
}

// ParseMission decodes and validates a YAML mission description.
func ParseMission(data []byte) (*Mission, error) {
	var f missionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMission, err)
	}

	m := &Mission{
		Name:     f.Name,
		Start:    r3.Vec(f.Start),
		End:      r3.Vec(f.End),
		Airspace: f.Airspace,
	}
	for _, wp := range f.Waypoints {
		m.Waypoints = append(m.Waypoints, r3.Vec(wp))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mission) Validate() error {
	a := m.Airspace
	if a.Min.X >= a.Max.X || a.Min.Y >= a.Max.Y {
		return fmt.Errorf("%w: empty airspace", ErrInvalidMission)
	}
	if a.Min.R > a.Max.R {
		return fmt.Errorf("%w: rotation range [%.2f, %.2f] is empty", ErrInvalidMission, a.Min.R, a.Max.R)
	}
	if a.MaxSize.H <= 0 {
		return fmt.Errorf("%w: maximum obstacle height must be positive", ErrInvalidMission)
	}
	if a.KeepOut < 0 {
		return fmt.Errorf("%w: negative keep-out radius", ErrInvalidMission)
	}
	if m.Start == m.End && len(m.Waypoints) == 0 {
		return fmt.Errorf("%w: mission has no trajectory", ErrInvalidMission)
	}
	return nil
}

// Route is the planned 3D route: start, waypoints, end.
func (m *Mission) Route() []r3.Vec {
	route := make([]r3.Vec, 0, len(m.Waypoints)+2)
	route = append(route, m.Start)
	route = append(route, m.Waypoints...)
	return append(route, m.End)
}

// Nominal is the planned route projected onto the ground and densified at SampleSpacing.
func (m *Mission) Nominal() Path {
	route := m.Route()
	corners := make([]r2.Vec, len(route))
	for i, p := range route {
		corners[i] = flatten(p)
	}
	return Densify(corners, SampleSpacing)
}

func flatten(p r3.Vec) r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Flatten projects a 3D trajectory onto the ground plane.
func Flatten(trajectory []r3.Vec) Path {
	path := make(Path, len(trajectory))
	for i, p := range trajectory {
		path[i] = flatten(p)
	}
	return path
}
