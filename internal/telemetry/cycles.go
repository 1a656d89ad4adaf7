// Package telemetry records one CSV row per movement cycle and summarizes
// a run.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Cycle is one row of cycles.csv.
type Cycle struct {
	Time       string  `csv:"time"`
	Lat        float64 `csv:"lat"`
	Lng        float64 `csv:"lng"`
	Energy     int     `csv:"energy"`
	Inventory  int     `csv:"inventory"`
	StepM      float64 `csv:"step_m"`
	TravelledM float64 `csv:"travelled_m"`
	Actions    int     `csv:"actions"`
}

// Recorder keeps summary statistics for every recorded cycle and, when
// created with a directory, also appends them to <dir>/cycles.csv. The
// summary covers the current run only.
type Recorder struct {
	f             *os.File
	headerWritten bool

	energy  []float64
	steps   []float64
	actions int
}

func NewRecorder(dir string) (*Recorder, error) {
	r := &Recorder{}
	if dir == "" {
		return r, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating telemetry directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "cycles.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening cycles.csv: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("opening cycles.csv: %w", err)
	}
	// Earlier runs already wrote the header.
	r.headerWritten = info.Size() > 0
	r.f = f
	return r, nil
}

func (r *Recorder) Record(c Cycle) error {
	if r == nil {
		return nil
	}
	r.energy = append(r.energy, float64(c.Energy))
	r.steps = append(r.steps, c.StepM)
	r.actions += c.Actions
	if r.f == nil {
		return nil
	}

	records := []Cycle{c}
	if !r.headerWritten {
		if err := gocsv.Marshal(records, r.f); err != nil {
			return fmt.Errorf("writing cycles: %w", err)
		}
		r.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, r.f); err != nil {
		return fmt.Errorf("writing cycles: %w", err)
	}
	return nil
}

// Summary aggregates a run.
type Summary struct {
	Cycles     int
	Actions    int
	TravelledM float64
	EnergyMean float64
	EnergyStd  float64
	StepMean   float64
	StepStd    float64
}

func (s Summary) String() string {
	return fmt.Sprintf("cycles=%d actions=%d travelled=%.0fm energy=%.0f±%.0f step=%.2f±%.2fm",
		s.Cycles, s.Actions, s.TravelledM, s.EnergyMean, s.EnergyStd, s.StepMean, s.StepStd)
}

func (r *Recorder) Summary() Summary {
	if r == nil || len(r.energy) == 0 {
		return Summary{}
	}
	s := Summary{
		Cycles:     len(r.energy),
		Actions:    r.actions,
		TravelledM: floats.Sum(r.steps),
	}
	s.EnergyMean, s.EnergyStd = meanStd(r.energy)
	s.StepMean, s.StepStd = meanStd(r.steps)
	return s
}

func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

func (r *Recorder) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
