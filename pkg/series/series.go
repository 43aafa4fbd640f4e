// Package series holds the fixed 24-slot hourly time series and the
// normalizer that decodes variable-shape backend metric payloads into it.
package series

import (
	"encoding/json"
	"math"
)

// Hours is the number of slots in a TimeSeries.
const Hours = 24

// TimeSeries is a value per local hour-of-day, in seconds. A slot may be
// empty. The zero value is an all-empty series. TimeSeries is a value type:
// copies never share slots.
type TimeSeries struct {
	values [Hours]float64
	set    [Hours]bool
}

// FromValues builds a series from a slice where nil means "no data".
// Entries beyond Hours and non-finite values are dropped.
func FromValues(values []*float64) TimeSeries {
	var ts TimeSeries
	for h, v := range values {
		if v != nil {
			ts.put(h, *v)
		}
	}
	return ts
}

// put stores v at hour h. Out-of-range hours and non-finite values are
// discarded, never clamped.
func (ts *TimeSeries) put(h int, v float64) bool {
	if h < 0 || h >= Hours {
		return false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	ts.values[h] = v
	ts.set[h] = true
	return true
}

// Get returns the value at hour h and whether the slot holds data.
func (ts TimeSeries) Get(h int) (float64, bool) {
	if h < 0 || h >= Hours || !ts.set[h] {
		return 0, false
	}
	return ts.values[h], true
}

// Len is always Hours.
func (ts TimeSeries) Len() int { return Hours }

// Count returns the number of non-empty slots.
func (ts TimeSeries) Count() int {
	n := 0
	for _, ok := range ts.set {
		if ok {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no slot holds data. Callers treat an empty series
// as "metric unavailable".
func (ts TimeSeries) IsEmpty() bool { return ts.Count() == 0 }

// Values returns the slots as pointers, nil for empty.
func (ts TimeSeries) Values() []*float64 {
	out := make([]*float64, Hours)
	for h := 0; h < Hours; h++ {
		if ts.set[h] {
			v := ts.values[h]
			out[h] = &v
		}
	}
	return out
}

// Average returns the mean of the non-empty slots in the inclusive range
// [from, to]. ok is false when the range holds no data.
func (ts TimeSeries) Average(from, to int) (avg float64, ok bool) {
	if from < 0 {
		from = 0
	}
	if to >= Hours {
		to = Hours - 1
	}
	var sum float64
	n := 0
	for h := from; h <= to; h++ {
		if ts.set[h] {
			sum += ts.values[h]
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MarshalJSON renders the series as a 24-element array with nulls.
func (ts TimeSeries) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Values())
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (ts *TimeSeries) UnmarshalJSON(data []byte) error {
	var values []*float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*ts = FromValues(values)
	return nil
}

// MarshalYAML renders the series like MarshalJSON.
func (ts TimeSeries) MarshalYAML() (interface{}, error) {
	return ts.Values(), nil
}
