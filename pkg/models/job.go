package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// JobStatus represents the status string reported by the analytics backend.
// Unknown values are kept verbatim.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsDone reports whether the status is the terminal "done" literal.
// Anything else, including unknown strings, means "not yet done".
func (s JobStatus) IsDone() bool {
	return s == JobStatusDone
}

// JobParameters are the backend-defined parameters of an analytics job.
// They are held as raw JSON so they can be cloned into a derived job
// byte-for-byte.
type JobParameters struct {
	Period    json.RawMessage `json:"period,omitempty"`
	Filters   json.RawMessage `json:"filters,omitempty"`
	Namespace json.RawMessage `json:"namespace,omitempty"`
}

// IsZero reports whether no parameter was present.
func (p JobParameters) IsZero() bool {
	return len(p.Period) == 0 && len(p.Filters) == 0 && len(p.Namespace) == 0
}

// DecodePeriod decodes the period for display purposes. The raw value is left untouched.
func (p JobParameters) DecodePeriod() (Period, error) {
	var period Period
	if len(p.Period) == 0 || bytes.Equal(p.Period, []byte("null")) {
		return period, nil
	}
	if err := json.Unmarshal(p.Period, &period); err != nil {
		return period, fmt.Errorf("failed to decode period: %w", err)
	}
	return period, nil
}

// NamespaceString returns the namespace when the backend sent it as a string.
func (p JobParameters) NamespaceString() string {
	var ns string
	if err := json.Unmarshal(p.Namespace, &ns); err != nil {
		return ""
	}
	return ns
}

// Period is the time range of a job, as far as the report layer cares.
type Period struct {
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
	TZ    string `json:"tz,omitempty" yaml:"tz,omitempty"`
}

// Location resolves the period's time zone, falling back to UTC.
func (p Period) Location() *time.Location {
	if p.TZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StartTime parses the period start. Both RFC3339 strings and epoch
// milliseconds are accepted.
func (p Period) StartTime() (time.Time, bool) {
	if p.Start == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, p.Start); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(p.Start, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// UnmarshalJSON accepts start/end given either as strings or as epoch numbers.
func (p *Period) UnmarshalJSON(data []byte) error {
	var wire struct {
		Start json.RawMessage `json:"start"`
		End   json.RawMessage `json:"end"`
		TZ    string          `json:"tz"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.Start = rawScalar(wire.Start)
	p.End = rawScalar(wire.End)
	p.TZ = wire.TZ
	return nil
}

// rawScalar renders a JSON string or number as plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Day returns the period start as YYYY-MM-DD in the period's time zone,
// together with the zone name used.
func (p Period) Day(now time.Time) (string, string) {
	loc := p.Location()
	start, ok := p.StartTime()
	if !ok {
		start = now
	}
	return start.In(loc).Format("2006-01-02"), loc.String()
}

// Job is an asynchronous analytics job as seen by the client.
type Job struct {
	ID           string                     `json:"id"`
	BaseEndpoint string                     `json:"base_endpoint"`
	Status       JobStatus                  `json:"status"`
	Parameters   *JobParameters             `json:"parameters,omitempty"`
	Metrics      map[string]json.RawMessage `json:"metrics,omitempty"`
}

// jobWire is the response body of a job fetch. Older backends put the
// parameters at the top level instead of under "parameters".
type jobWire struct {
	Status     JobStatus                  `json:"status"`
	Parameters *JobParameters             `json:"parameters"`
	Period     json.RawMessage            `json:"period"`
	Filters    json.RawMessage            `json:"filters"`
	Namespace  json.RawMessage            `json:"namespace"`
	Metrics    map[string]json.RawMessage `json:"metrics"`
}

// DecodeJob parses a job fetch response body.
func DecodeJob(id, baseEndpoint string, body []byte) (*Job, error) {
	var wire jobWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", id, err)
	}

	job := &Job{
		ID:           id,
		BaseEndpoint: baseEndpoint,
		Status:       wire.Status,
		Metrics:      wire.Metrics,
	}
	if wire.Parameters != nil {
		job.Parameters = wire.Parameters
	} else {
		top := JobParameters{Period: wire.Period, Filters: wire.Filters, Namespace: wire.Namespace}
		if !top.IsZero() {
			job.Parameters = &top
		}
	}
	return job, nil
}

// MetricOption names one metric requested from a derived job.
type MetricOption struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// JobRequest is the body of a job creation request.
type JobRequest struct {
	Namespace          json.RawMessage `json:"namespace"`
	ReportType         string          `json:"reportType"`
	Period             json.RawMessage `json:"period"`
	Filters            json.RawMessage `json:"filters"`
	Metrics            []string        `json:"metrics"`
	MetricsWithOptions []MetricOption  `json:"metricsWithOptions"`
}

// jobCreatedWire covers the id field names used by different backend versions.
// Each may be a JSON string or number.
type jobCreatedWire struct {
	JobUID json.RawMessage `json:"jobUid"`
	UID    json.RawMessage `json:"uid"`
	ID     json.RawMessage `json:"id"`
}

// DecodeCreatedJobID extracts the new job id from the first present of
// jobUid, uid and id.
func DecodeCreatedJobID(body []byte) (string, error) {
	var wire jobCreatedWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", fmt.Errorf("failed to parse job creation response: %w", err)
	}
	for _, raw := range []json.RawMessage{wire.JobUID, wire.UID, wire.ID} {
		if id := rawScalar(raw); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("job creation response carries no job id")
}
