package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/pipeline"
	"github.com/dm-alt/USM-scripts/pkg/series"
)

func ptr(v float64) *float64 { return &v }

func sampleResult() *pipeline.Result {
	res := make([]*float64, 24)
	reply := make([]*float64, 24)
	res[10], res[11], res[12] = ptr(3600), ptr(7200), nil
	reply[10], reply[12] = ptr(90), ptr(30)

	return &pipeline.Result{
		RunID:        "run-1",
		DerivedJobID: "derived-1",
		Period:       models.Period{Start: "2024-03-01T23:30:00Z", TZ: "Europe/Paris"},
		SeriesByMetric: map[string]series.TimeSeries{
			MetricResolution: series.FromValues(res),
			MetricReply:      series.FromValues(reply),
			MetricFirstReply: {},
		},
	}
}

func TestHourLabel(t *testing.T) {
	tests := map[int]string{0: "12 AM", 1: "1 AM", 11: "11 AM", 12: "12 PM", 13: "1 PM", 18: "6 PM", 23: "11 PM"}
	for h, want := range tests {
		if got := HourLabel(h); got != want {
			t.Errorf("HourLabel(%d) = %q, want %q", h, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0s"},
		{59.4, "59s"},
		{59.6, "1m 0s"},
		{61, "1m 1s"},
		{3600, "1h 0m 0s"},
		{3661, "1h 1m 1s"},
		{90061, "1d 1h 1m 1s"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRangeValidate(t *testing.T) {
	assert.NoError(t, DefaultRange.Validate())
	assert.NoError(t, Range{Start: 5, End: 5}.Validate())
	assert.Error(t, Range{Start: 12, End: 11}.Validate())
	assert.Error(t, Range{Start: -1, End: 3}.Validate())
	assert.Error(t, Range{Start: 0, End: 24}.Validate())
}

func TestBuild(t *testing.T) {
	rep, err := Build(sampleResult(), Range{Start: 10, End: 12}, time.Now())
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Paris
	assert.Equal(t, "2024-03-02", rep.Day)
	assert.Equal(t, "Europe/Paris", rep.TZ)

	require.Len(t, rep.Rows, 3)
	assert.Equal(t, []string{"10 AM", "1h 0m 0s", "1m 30s", ""}, rep.Rows[0].Cells())
	assert.Equal(t, []string{"11 AM", "2h 0m 0s", "", ""}, rep.Rows[1].Cells())
	assert.Equal(t, []string{"12 PM", "", "30s", ""}, rep.Rows[2].Cells())

	// Averages skip empty hours
	assert.Equal(t, []string{"Average", "1h 30m 0s", "1m 0s", ""}, rep.Average.Cells())
	assert.Nil(t, rep.Average.FirstReply.Seconds)
}

func TestBuild_RejectsBadRange(t *testing.T) {
	_, err := Build(sampleResult(), Range{Start: 18, End: 10}, time.Now())
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	rep, err := Build(sampleResult(), DefaultRange, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "front-hourly_2024-03-02_10AM-6PM.csv", rep.Filename())
}

func TestWriteCSV(t *testing.T) {
	rep, err := Build(sampleResult(), Range{Start: 10, End: 11}, time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rep, FormatCSV))

	want := strings.Join([]string{
		"Date,2024-03-02,Europe/Paris",
		"",
		"Hour,Resolution time (avg),Reply time (avg),First reply time (avg)",
		"10 AM,1h 0m 0s,1m 30s,",
		"11 AM,2h 0m 0s,,",
		"Average,1h 30m 0s,1m 30s,",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteJSONAndYAML(t *testing.T) {
	rep, err := Build(sampleResult(), Range{Start: 10, End: 10}, time.Now())
	require.NoError(t, err)

	var jsonBuf bytes.Buffer
	require.NoError(t, Write(&jsonBuf, rep, FormatJSON))
	var decoded Report
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "derived-1", decoded.DerivedJobID)
	require.NotNil(t, decoded.Rows[0].Resolution.Seconds)
	assert.Equal(t, 3600.0, *decoded.Rows[0].Resolution.Seconds)

	var yamlBuf bytes.Buffer
	require.NoError(t, Write(&yamlBuf, rep, FormatYAML))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(yamlBuf.Bytes(), &generic))
	assert.Equal(t, "2024-03-02", generic["day"])
}

func TestWriteTable(t *testing.T) {
	rep, err := Build(sampleResult(), Range{Start: 10, End: 12}, time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rep, FormatTable))
	out := buf.String()
	assert.Contains(t, out, "Date: 2024-03-02 (Europe/Paris)")
	assert.Contains(t, out, "12 PM")
	assert.Contains(t, out, "Derived job: derived-1")
}

func TestWrite_UnknownFormat(t *testing.T) {
	rep, err := Build(sampleResult(), DefaultRange, time.Now())
	require.NoError(t, err)
	assert.Error(t, Write(&bytes.Buffer{}, rep, "xml"))
}
