package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
	"palm/searcher"
)

// Local is a kinematic stand-in for the flight simulator. The vehicle follows
// the planned route and is pushed away from every obstacle closer than
// Influence, which lets it slip past isolated obstacles but not through
// narrow gaps. A flight fails when it hits an obstacle, detours more than
// MaxDeviation or is pushed out of the airspace.
type Local struct {
	// Influence is the range in metres at which obstacles start to repel.
	Influence float64
	// Gain scales the repulsion; 1 moves a point fully out of the influence range.
	Gain float64
	// MaxDeviation is the largest detour from the route before the flight is
	// considered lost.
	MaxDeviation float64
	// LogDir receives a CSV flight log per run when set.
	LogDir string

	runs atomic.Int64
}

func NewLocal() *Local {
	return &Local{
		Influence:    3.0,
		Gain:         0.8,
		MaxDeviation: 10.0,
	}
}

func (l *Local) Run(ctx context.Context, mission *scenario.Mission, state scenario.State) (searcher.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return searcher.Outcome{}, err
	}

	obstacles := state.Obstacles()
	nominal := mission.Nominal()
	flown, deviation := l.fly(nominal, obstacles)
	trajectory := lift(flown, cruise(mission))

	outcome := measure(trajectory, obstacles)
	if deviation > l.MaxDeviation || leaves(nominal, flown, mission.Airspace) {
		outcome.Failed = true
	}

	run := l.runs.Add(1)
	if l.LogDir != "" {
		file, err := l.writeLog(run, trajectory)
		if err != nil {
			return searcher.Outcome{}, err
		}
		outcome.LogFile = file
	}

	log.Debug().
		Int64("run", run).
		Bool("failed", outcome.Failed).
		Float64("min_distance", outcome.MinDistance).
		Float64("deviation", deviation).
		Msg("Local flight complete")
	return outcome, nil
}

// Estimate flies path instead of the planned route and never reports failure.
func (l *Local) Estimate(mission *scenario.Mission, path scenario.Path, state scenario.State) searcher.Outcome {
	if len(path) == 0 {
		path = mission.Nominal()
	}
	obstacles := state.Obstacles()
	flown, _ := l.fly(path, obstacles)
	outcome := measure(lift(flown, cruise(mission)), obstacles)
	outcome.Failed = false
	return outcome
}

// fly deflects every point of path away from nearby obstacles. It returns the
// flown path and the largest deviation from the planned one.
func (l *Local) fly(path scenario.Path, obstacles []scenario.Obstacle) (scenario.Path, float64) {
	flown := make(scenario.Path, len(path))
	deviation := 0.0
	for i, p := range path {
		var push r2.Vec
		for _, o := range obstacles {
			rect := o.Footprint()
			d := rect.Distance(p)
			if d >= l.Influence {
				continue
			}
			away := r2.Sub(p, rect.Center)
			if r2.Norm(away) == 0 {
				away = normal(path, i)
			}
			push = r2.Add(push, r2.Scale(l.Gain*(l.Influence-d), r2.Unit(away)))
		}
		flown[i] = r2.Add(p, push)
		deviation = math.Max(deviation, r2.Norm(push))
	}
	return flown, deviation
}

// leaves reports whether a point the route keeps inside the airspace was
// flown outside of it.
func leaves(nominal, flown scenario.Path, airspace scenario.Airspace) bool {
	for i, p := range nominal {
		if airspace.Contains(p) && !airspace.Contains(flown[i]) {
			return true
		}
	}
	return false
}

// normal is the unit normal to the path at point i, used to push points
// that sit exactly on an obstacle centre.
func normal(path scenario.Path, i int) r2.Vec {
	var dir r2.Vec
	switch {
	case i+1 < len(path):
		dir = r2.Sub(path[i+1], path[i])
	case i > 0:
		dir = r2.Sub(path[i], path[i-1])
	default:
		return r2.Vec{X: 1}
	}
	if r2.Norm(dir) == 0 {
		return r2.Vec{X: 1}
	}
	return r2.Unit(r2.Vec{X: -dir.Y, Y: dir.X})
}

func cruise(mission *scenario.Mission) float64 {
	altitude := 0.0
	for _, p := range mission.Route() {
		altitude = math.Max(altitude, p.Z)
	}
	return altitude
}

func lift(path scenario.Path, altitude float64) []r3.Vec {
	trajectory := make([]r3.Vec, len(path))
	for i, p := range path {
		trajectory[i] = r3.Vec{X: p.X, Y: p.Y, Z: altitude}
	}
	return trajectory
}

func (l *Local) writeLog(run int64, trajectory []r3.Vec) (string, error) {
	err := os.MkdirAll(l.LogDir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(l.LogDir, fmt.Sprintf("flight_%d.csv", run))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create flight log: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	err = writer.Write([]string{"step", "x", "y", "z"})
	if err != nil {
		return "", fmt.Errorf("failed to write flight log header: %w", err)
	}
	for i, p := range trajectory {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatFloat(p.X, 'f', 3, 64),
			strconv.FormatFloat(p.Y, 'f', 3, 64),
			strconv.FormatFloat(p.Z, 'f', 3, 64),
		}
		err = writer.Write(row)
		if err != nil {
			return "", fmt.Errorf("failed to write flight log row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush flight log: %w", err)
	}
	return path, nil
}
