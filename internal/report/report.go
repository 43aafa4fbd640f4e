// Package report turns a pipeline result into the hourly table users see:
// one row per hour of the selected range plus an average row.
package report

import (
	"fmt"
	"time"

	"github.com/dm-alt/USM-scripts/pkg/pipeline"
	"github.com/dm-alt/USM-scripts/pkg/series"
)

// Column order of the report, matching the requested metrics.
const (
	MetricResolution = "ticket_avg_resolution_time_graph"
	MetricReply      = "response_graph"
	MetricFirstReply = "first_response_graph"
)

// Headers are the column titles of every rendering.
var Headers = []string{"Hour", "Resolution time (avg)", "Reply time (avg)", "First reply time (avg)"}

// AverageLabel labels the final row.
const AverageLabel = "Average"

// Range is an inclusive hour-of-day range
type Range struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultRange is 10 AM to 6 PM.
var DefaultRange = Range{Start: 10, End: 18}

// Validate checks both ends are hours and end is not before start
func (r Range) Validate() error {
	if r.Start < 0 || r.Start > 23 || r.End < 0 || r.End > 23 {
		return fmt.Errorf("hours must be between 0 and 23, got %d-%d", r.Start, r.End)
	}
	if r.End < r.Start {
		return fmt.Errorf("end hour must be after start hour")
	}
	return nil
}

// Cell is one metric value of a row. Seconds is nil when there is no data.
type Cell struct {
	Seconds   *float64 `json:"seconds" yaml:"seconds"`
	Formatted string   `json:"formatted" yaml:"formatted"`
}

// Row is one line of the report
type Row struct {
	Label      string `json:"label" yaml:"label"`
	Hour       *int   `json:"hour,omitempty" yaml:"hour,omitempty"`
	Resolution Cell   `json:"resolution" yaml:"resolution"`
	Reply      Cell   `json:"reply" yaml:"reply"`
	FirstReply Cell   `json:"first_reply" yaml:"first_reply"`
}

// Cells returns the row as display strings in Headers order
func (r Row) Cells() []string {
	return []string{r.Label, r.Resolution.Formatted, r.Reply.Formatted, r.FirstReply.Formatted}
}

// Report is the rendered view of one pipeline run
type Report struct {
	Day          string `json:"day" yaml:"day"`
	TZ           string `json:"tz" yaml:"tz"`
	Range        Range  `json:"range" yaml:"range"`
	DerivedJobID string `json:"derived_job_id" yaml:"derived_job_id"`
	RunID        string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Rows         []Row  `json:"rows" yaml:"rows"`
	Average      Row    `json:"average" yaml:"average"`
}

// Build assembles the report for r. now is used for the day when the
// period carries no usable start.
func Build(res *pipeline.Result, r Range, now time.Time) (*Report, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no result to report")
	}

	day, tz := res.Period.Day(now)
	rep := &Report{
		Day:          day,
		TZ:           tz,
		Range:        r,
		DerivedJobID: res.DerivedJobID,
		RunID:        res.RunID,
	}

	resolution := res.SeriesByMetric[MetricResolution]
	reply := res.SeriesByMetric[MetricReply]
	first := res.SeriesByMetric[MetricFirstReply]

	for h := r.Start; h <= r.End; h++ {
		hour := h
		rep.Rows = append(rep.Rows, Row{
			Label:      HourLabel(h),
			Hour:       &hour,
			Resolution: hourCell(resolution, h),
			Reply:      hourCell(reply, h),
			FirstReply: hourCell(first, h),
		})
	}

	rep.Average = Row{
		Label:      AverageLabel,
		Resolution: averageCell(resolution, r),
		Reply:      averageCell(reply, r),
		FirstReply: averageCell(first, r),
	}
	return rep, nil
}

// AllRows returns the hour rows followed by the average row
func (rep *Report) AllRows() []Row {
	rows := make([]Row, 0, len(rep.Rows)+1)
	rows = append(rows, rep.Rows...)
	return append(rows, rep.Average)
}

// Filename is the conventional CSV file name,
// e.g. front-hourly_2024-03-01_10AM-6PM.csv.
func (rep *Report) Filename() string {
	return fmt.Sprintf("front-hourly_%s_%s-%s.csv",
		rep.Day, compactLabel(rep.Range.Start), compactLabel(rep.Range.End))
}

func hourCell(ts series.TimeSeries, h int) Cell {
	v, ok := ts.Get(h)
	if !ok {
		return Cell{}
	}
	return Cell{Seconds: &v, Formatted: FormatDuration(v)}
}

func averageCell(ts series.TimeSeries, r Range) Cell {
	v, ok := ts.Average(r.Start, r.End)
	if !ok {
		return Cell{}
	}
	return Cell{Seconds: &v, Formatted: FormatDuration(v)}
}
