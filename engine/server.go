package engine

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
	"palm/searcher"
)

// NewHandler serves executor over HTTP at POST /run, speaking the protocol
// Remote expects.
func NewHandler(executor searcher.Executor) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		handleRun(w, r, executor)
	})
	return mux
}

func handleRun(w http.ResponseWriter, r *http.Request, executor searcher.Executor) {
	var payload runRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	mission, state, err := payload.decode()
	if err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := executor.Run(r.Context(), mission, state)
	if err != nil {
		log.Warn().Err(err).Msgf("Simulation of %s failed", state)
		http.Error(w, "simulation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := runResponse{
		LogFile:  outcome.LogFile,
		PlotFile: outcome.PlotFile,
		Failed:   outcome.Failed,
	}
	for _, p := range outcome.Trajectory {
		resp.Trajectory = append(resp.Trajectory, point{X: p.X, Y: p.Y, Z: p.Z})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode outcome: "+err.Error(), http.StatusInternalServerError)
	}
}

func (p runRequest) decode() (*scenario.Mission, scenario.State, error) {
	if len(p.Route) < 2 {
		return nil, scenario.State{}, fmt.Errorf("route needs a start and an end, got %d points", len(p.Route))
	}
	route := make([]r3.Vec, len(p.Route))
	for i, q := range p.Route {
		route[i] = r3.Vec{X: q.X, Y: q.Y, Z: q.Z}
	}
	mission := &scenario.Mission{
		Name:      p.Mission,
		Start:     route[0],
		End:       route[len(route)-1],
		Waypoints: route[1 : len(route)-1],
		Airspace:  p.Airspace,
	}
	state, err := scenario.NewState(max(len(p.Obstacles), 1), p.Obstacles...)
	if err != nil {
		return nil, scenario.State{}, err
	}
	return mission, state, nil
}
