package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"palm/scenario"
)

// TestCaseRecord is the persisted form of a failure-inducing scenario.
type TestCaseRecord struct {
	Mission     string              `yaml:"mission"`
	Iteration   int                 `yaml:"iteration"`
	Reward      float64             `yaml:"reward"`
	Failed      bool                `yaml:"failed"`
	MinDistance float64             `yaml:"min_distance"`
	Obstacles   []scenario.Obstacle `yaml:"obstacles"`
	LogFile     string              `yaml:"log_file,omitempty"`
	PlotFile    string              `yaml:"plot_file,omitempty"`
}

type NodeRecord struct {
	Key        string
	Depth      int
	Visits     int
	Own        int
	Children   int
	MeanReward float64
	Distance   float64
	Simulated  bool
}

type SweepRecord struct {
	Seed uint64
	Dir  string
	SearchMetric
}

type Writer struct {
	baseDir string
}

// NewWriter creates a subfolder of root named by the current timestamp. Writers
// created within the same second get numbered folders.
func NewWriter(root string) (*Writer, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	baseDir := filepath.Join(root, timestamp)
	for i := 1; ; i++ {
		err = os.Mkdir(baseDir, 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		baseDir = filepath.Join(root, fmt.Sprintf("%s_%d", timestamp, i))
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

// WriteTestCase saves the record as test_<i>.yaml and copies its log and plot
// files next to it as test_<i>.<ext>. Copied paths replace the originals in
// the saved record.
func (w *Writer) WriteTestCase(i int, record TestCaseRecord) error {
	name := fmt.Sprintf("test_%d", i)

	for _, file := range []*string{&record.LogFile, &record.PlotFile} {
		if *file == "" {
			continue
		}
		dst := filepath.Join(w.baseDir, name+filepath.Ext(*file))
		err := copyFile(*file, dst)
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", *file, err)
		}
		*file = filepath.Base(dst)
	}

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode test case %d: %w", i, err)
	}
	path := filepath.Join(w.baseDir, name+".yaml")
	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write test case file: %w", err)
	}
	return nil
}

func (w *Writer) WriteTree(records []NodeRecord) error {
	// Create a file
	path := filepath.Join(w.baseDir, "tree.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tree file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	// Write header
	header := []string{"key", "depth", "visits", "own", "children", "mean_reward", "distance", "simulated"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write tree header: %w", err)
	}

	// Write each row
	for _, record := range records {
		row := []string{
			record.Key,
			strconv.Itoa(record.Depth),
			strconv.Itoa(record.Visits),
			strconv.Itoa(record.Own),
			strconv.Itoa(record.Children),
			strconv.FormatFloat(record.MeanReward, 'f', 6, 64),
			strconv.FormatFloat(record.Distance, 'f', 6, 64),
			strconv.FormatBool(record.Simulated),
		}
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("failed to write tree row: %w", err)
		}
	}
	return flush(writer, "tree")
}

func (w *Writer) WriteSummary(metric SearchMetric) error {
	path := filepath.Join(w.baseDir, "summary.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	header := []string{"start_time", "duration", "budget", "iterations", "simulations", "simulation_time",
		"proxy_evaluations", "simulation_errors", "sampling_failures", "failures", "nodes", "max_depth", "best_reward"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	row := []string{
		metric.StartTime.Format(time.RFC3339),
		metric.Duration.String(),
		strconv.Itoa(metric.Budget),
		strconv.Itoa(metric.Iterations),
		strconv.Itoa(metric.Simulations),
		metric.SimulationTime.String(),
		strconv.Itoa(metric.ProxyEvaluations),
		strconv.Itoa(metric.SimulationErrors),
		strconv.Itoa(metric.SamplingFailures),
		strconv.Itoa(metric.Failures),
		strconv.Itoa(metric.Nodes),
		strconv.Itoa(metric.MaxDepth),
		strconv.FormatFloat(metric.BestReward, 'f', 6, 64),
	}
	err = writer.Write(row)
	if err != nil {
		return fmt.Errorf("failed to write summary row: %w", err)
	}
	return flush(writer, "summary")
}

func (w *Writer) WriteSweep(records []SweepRecord) error {
	path := filepath.Join(w.baseDir, "sweep.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create sweep file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)

	header := []string{"seed", "dir", "duration", "iterations", "simulations", "failures", "nodes", "best_reward"}
	err = writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write sweep header: %w", err)
	}

	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.Seed, 10),
			record.Dir,
			record.Duration.String(),
			strconv.Itoa(record.Iterations),
			strconv.Itoa(record.Simulations),
			strconv.Itoa(record.Failures),
			strconv.Itoa(record.Nodes),
			strconv.FormatFloat(record.BestReward, 'f', 6, 64),
		}
		err = writer.Write(row)
		if err != nil {
			return fmt.Errorf("failed to write sweep row: %w", err)
		}
	}
	return flush(writer, "sweep")
}

func flush(writer *csv.Writer, name string) error {
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s file: %w", name, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
