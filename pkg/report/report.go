// Package report summarizes thickness maps and renders run reports.
package report

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

// ErrEmpty is returned when no voxel is selected for a summary.
var ErrEmpty = errors.New("report: no measured voxels")

// Summary holds statistics of the thickness over the measured voxels.
type Summary struct {
	Voxels int     `json:"voxels"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P05    float64 `json:"p05"`
	P95    float64 `json:"p95"`

	// Nominal is the expected thickness, 0 when unknown
	Nominal float64 `json:"nominal,omitempty"`
	// Within10 is the share of voxels within 10% of Nominal
	Within10 float64 `json:"within10,omitempty"`
}

// Summarize computes statistics of field over the voxels set in mask.
func Summarize(field ndarray.Array[float64], mask ndarray.Array[bool]) (Summary, error) {
	if !ndarray.SameShape(field, mask) {
		return Summary{}, fmt.Errorf("report: field %v and mask %v differ in shape", field.Shape, mask.Shape)
	}
	var values []float64
	for off, in := range mask.Data {
		if in {
			values = append(values, field.Data[off])
		}
	}
	return SummarizeValues(values)
}

// SummarizeValues computes statistics of values without modifying them.
func SummarizeValues(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmpty
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	s := Summary{
		Voxels: len(sorted),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		s.StdDev = 0
	}
	return s, nil
}

// WithNominal returns s with the share of values within 10% of nominal.
func (s Summary) WithNominal(values []float64, nominal float64) Summary {
	s.Nominal = nominal
	if nominal <= 0 || len(values) == 0 {
		return s
	}
	within := 0
	for _, v := range values {
		if math.Abs(v-nominal) <= 0.1*nominal {
			within++
		}
	}
	s.Within10 = float64(within) / float64(len(values))
	return s
}

// Report describes one thickness run.
type Report struct {
	RunID            string                              `json:"runId"`
	Source           string                              `json:"source"`
	Shape            []int                               `json:"shape"`
	Spacing          models.Spacing                      `json:"spacing"`
	Summary          Summary                             `json:"summary"`
	Stages           map[models.Stage]models.Diagnostics `json:"stages"`
	DegenerateVoxels int                                 `json:"degenerateVoxels"`
	Elapsed          time.Duration                       `json:"elapsed"`
}

// Render formats the report as tables. plain drops box drawing for output
// that is not a terminal.
func Render(r Report, plain bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s, shape %v, spacing %v\n", r.RunID, r.Source, r.Shape, r.Spacing[:])

	summary := newTable(plain)
	summary.AppendHeader(table.Row{"Statistic", "Value"})
	s := r.Summary
	summary.AppendRows([]table.Row{
		{"measured voxels", s.Voxels},
		{"mean", format(s.Mean)},
		{"std dev", format(s.StdDev)},
		{"min", format(s.Min)},
		{"p05", format(s.P05)},
		{"median", format(s.Median)},
		{"p95", format(s.P95)},
		{"max", format(s.Max)},
	})
	if s.Nominal > 0 {
		summary.AppendRow(table.Row{"nominal", format(s.Nominal)})
		summary.AppendRow(table.Row{"within 10%", fmt.Sprintf("%.1f%%", 100*s.Within10)})
	}
	summary.AppendRow(table.Row{"degenerate tangents", r.DegenerateVoxels})
	summary.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	b.WriteString(summary.Render())
	b.WriteString("\n")

	stages := newTable(plain)
	stages.AppendHeader(table.Row{"Stage", "Iterations", "Max change", "Converged", "Elapsed"})
	for _, stage := range []models.Stage{models.StageLaplace, models.StageYezzi} {
		d, ok := r.Stages[stage]
		if !ok {
			continue
		}
		if d.External {
			stages.AppendRow(table.Row{stage, "-", "-", "supplied", "-"})
			continue
		}
		stages.AppendRow(table.Row{stage, d.Iterations, fmt.Sprintf("%.3g", d.MaxError), d.Converged, d.Elapsed.Round(time.Millisecond)})
	}
	stages.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	b.WriteString(stages.Render())
	b.WriteString("\n")
	return b.String()
}

func newTable(plain bool) table.Writer {
	tw := table.NewWriter()
	if plain {
		tw.SetStyle(table.StyleDefault)
	} else {
		tw.SetStyle(table.StyleRounded)
	}
	return tw
}

func format(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
