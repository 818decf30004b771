package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
	"palm/searcher"
)

// Remote runs scenarios on an external simulator service.
type Remote struct {
	URL    string
	Client *http.Client
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type runRequest struct {
	Mission   string              `json:"mission"`
	Route     []point             `json:"route"`
	Airspace  scenario.Airspace   `json:"airspace"`
	Obstacles []scenario.Obstacle `json:"obstacles"`
}

type runResponse struct {
	Trajectory []point `json:"trajectory"`
	LogFile    string  `json:"log_file"`
	PlotFile   string  `json:"plot_file"`
	Failed     bool    `json:"failed"`
}

func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		URL:    strings.TrimSuffix(url, "/"),
		Client: &http.Client{Timeout: timeout},
	}
}

// Run posts the scenario to <URL>/run and measures the returned trajectory.
// The simulator's own verdict is kept; a collision found locally also fails
// the run.
func (r *Remote) Run(ctx context.Context, mission *scenario.Mission, state scenario.State) (searcher.Outcome, error) {
	payload := runRequest{
		Mission:   mission.Name,
		Airspace:  mission.Airspace,
		Obstacles: state.Obstacles(),
	}
	for _, p := range mission.Route() {
		payload.Route = append(payload.Route, point{X: p.X, Y: p.Y, Z: p.Z})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return searcher.Outcome{}, fmt.Errorf("failed to encode scenario: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL+"/run", bytes.NewReader(body))
	if err != nil {
		return searcher.Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return searcher.Outcome{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return searcher.Outcome{}, fmt.Errorf("simulator returned status %d: %s", resp.StatusCode, bytes.TrimSpace(out))
	}

	var result runResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return searcher.Outcome{}, fmt.Errorf("failed to decode simulator response: %w", err)
	}
	if len(result.Trajectory) == 0 {
		return searcher.Outcome{}, fmt.Errorf("simulator returned an empty trajectory")
	}

	trajectory := make([]r3.Vec, len(result.Trajectory))
	for i, p := range result.Trajectory {
		trajectory[i] = r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
	}
	outcome := measure(trajectory, state.Obstacles())
	outcome.Failed = outcome.Failed || result.Failed
	outcome.LogFile = result.LogFile
	outcome.PlotFile = result.PlotFile
	return outcome, nil
}
