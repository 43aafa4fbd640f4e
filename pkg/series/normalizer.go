package series

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Shape names the payload layout a recognizer decoded.
type Shape string

const (
	ShapeLabeledRows  Shape = "labeled_rows"
	ShapeFlat         Shape = "flat"
	ShapeNestedSeries Shape = "nested_series"
	ShapeUnrecognized Shape = "unrecognized"
)

// Recognizer attempts one payload layout. ok is false when the payload is
// not of that shape.
type Recognizer func(n *Normalizer, payload any) (ts TimeSeries, ok bool)

type namedRecognizer struct {
	shape Shape
	fn    Recognizer
}

// Value fields, in lookup order. The first non-null one on a row wins even
// if its value is unusable.
var valueFields = []string{"v", "value", "val", "y", "seconds", "avg"}

// Timestamp fields on labeled rows, in lookup order.
var timestampFields = []string{"start", "ts", "timestamp", "time"}

var hourLabelRE = regexp.MustCompile(`(?i)^(\d{1,2})(?::00)?\s*(AM|PM)$`)

// Normalizer decodes raw metric payloads into TimeSeries. The zero value is
// not usable; use NewNormalizer.
type Normalizer struct {
	// Location is used to turn row timestamps into hours of day.
	Location    *time.Location
	recognizers []namedRecognizer
}

// NewNormalizer returns a normalizer with the standard recognizer
// precedence: labeled rows, flat sequence, single nested series.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		Location: loc,
		recognizers: []namedRecognizer{
			{ShapeLabeledRows, recognizeLabeledRows},
			{ShapeFlat, recognizeFlat},
			{ShapeNestedSeries, recognizeNestedSeries},
		},
	}
}

// Normalize decodes raw into a series. It never fails: absent or
// unrecognized payloads yield an all-empty series.
func (n *Normalizer) Normalize(raw json.RawMessage) TimeSeries {
	ts, _ := n.Decode(raw)
	return ts
}

// Decode is Normalize that also reports which shape matched.
func (n *Normalizer) Decode(raw json.RawMessage) (TimeSeries, Shape) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return TimeSeries{}, ShapeUnrecognized
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return TimeSeries{}, ShapeUnrecognized
	}

	for _, r := range n.recognizers {
		if ts, ok := r.fn(n, payload); ok {
			return ts, r.shape
		}
	}
	return TimeSeries{}, ShapeUnrecognized
}

// recognizeLabeledRows handles {"vals": [{"label": "7 PM", "start": ..., "v": ...}, ...]}.
// Row lists under "values", or a bare array, qualify when their rows carry
// a label or timestamp; they are then keyed by that, not by position.
func recognizeLabeledRows(n *Normalizer, payload any) (TimeSeries, bool) {
	switch p := payload.(type) {
	case map[string]any:
		if ts, ok := n.labeledRows(p, "vals", "rows"); ok {
			return ts, true
		}
		if rows, _ := p["values"].([]any); n.hasTimedRow(rows) {
			return n.rowsSeries(rows), true
		}
	case []any:
		if n.hasTimedRow(p) {
			return n.rowsSeries(p), true
		}
	}
	return TimeSeries{}, false
}

// recognizeFlat handles {"values": [...]} or a bare array with at least 24
// entries, where the position is the hour unless a row says otherwise.
func recognizeFlat(n *Normalizer, payload any) (TimeSeries, bool) {
	var seq []any
	switch p := payload.(type) {
	case []any:
		seq = p
	case map[string]any:
		seq, _ = p["values"].([]any)
	}
	if len(seq) < Hours {
		return TimeSeries{}, false
	}

	var ts TimeSeries
	for i, el := range seq {
		hour := i
		var v float64
		var ok bool
		if row, isRow := el.(map[string]any); isRow {
			if h, timed := n.rowHour(row); timed {
				hour = h
			} else if raw, has := row["hour"]; has {
				h, valid := toFloat(raw)
				if !valid || h != math.Trunc(h) {
					continue
				}
				hour = int(h)
			}
			v, ok = rowValue(row)
		} else {
			v, ok = toFloat(el)
		}
		if ok {
			ts.put(hour, v)
		}
	}
	return ts, true
}

// recognizeNestedSeries handles {"series": [{"vals": [...]}]}.
func recognizeNestedSeries(n *Normalizer, payload any) (TimeSeries, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return TimeSeries{}, false
	}
	for _, key := range []string{"series", "data"} {
		list, _ := obj[key].([]any)
		if len(list) == 0 {
			continue
		}
		inner, ok := list[0].(map[string]any)
		if !ok {
			continue
		}
		if ts, ok := n.labeledRows(inner, "vals", "rows", "values"); ok {
			return ts, true
		}
	}
	return TimeSeries{}, false
}

// labeledRows decodes the first non-empty row list found under keys.
func (n *Normalizer) labeledRows(obj map[string]any, keys ...string) (TimeSeries, bool) {
	for _, key := range keys {
		rows, _ := obj[key].([]any)
		if len(rows) == 0 {
			continue
		}
		return n.rowsSeries(rows), true
	}
	return TimeSeries{}, false
}

// rowsSeries keys each row by its label or timestamp. Rows with neither
// are skipped.
func (n *Normalizer) rowsSeries(rows []any) TimeSeries {
	var ts TimeSeries
	for _, el := range rows {
		row, ok := el.(map[string]any)
		if !ok {
			continue
		}
		hour, ok := n.rowHour(row)
		if !ok {
			continue
		}
		if v, ok := rowValue(row); ok {
			ts.put(hour, v)
		}
	}
	return ts
}

// hasTimedRow reports whether any row resolves to an hour by label or
// timestamp.
func (n *Normalizer) hasTimedRow(rows []any) bool {
	for _, el := range rows {
		if row, ok := el.(map[string]any); ok {
			if _, ok := n.rowHour(row); ok {
				return true
			}
		}
	}
	return false
}

// rowHour resolves a row's hour. A parseable 12-hour label wins over a
// timestamp on the same row.
func (n *Normalizer) rowHour(row map[string]any) (int, bool) {
	if label, ok := row["label"].(string); ok {
		if h, ok := HourFromLabel(label); ok {
			return h, true
		}
	}
	for _, field := range timestampFields {
		raw, has := row[field]
		if !has || raw == nil {
			continue
		}
		if t, ok := parseTimestamp(raw, n.Location); ok {
			return t.In(n.Location).Hour(), true
		}
	}
	return 0, false
}

// HourFromLabel parses a 12-hour clock label such as "7 PM" into 0..23.
func HourFromLabel(label string) (int, bool) {
	m := hourLabelRE.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0, false
	}
	numeral, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	h := numeral % 12
	if strings.EqualFold(m[2], "PM") {
		h += 12
	}
	return h, true
}

// rowValue reads the value from the first present value field.
func rowValue(row map[string]any) (float64, bool) {
	for _, field := range valueFields {
		raw, has := row[field]
		if !has || raw == nil {
			continue
		}
		return toFloat(raw)
	}
	return 0, false
}

// toFloat accepts JSON numbers and numeric strings. Non-finite results are rejected.
func toFloat(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Layouts tried after RFC3339 for timestamps that carry no zone; those are
// read as wall-clock time in the normalizer's location.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseTimestamp accepts RFC3339 strings, zoneless date-times (interpreted
// in loc) and epoch numbers (milliseconds when large enough, seconds
// otherwise).
func parseTimestamp(raw any, loc *time.Location) (time.Time, bool) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		for _, layout := range zonelessLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
	}
	f, ok := toFloat(raw)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	return time.Unix(int64(f), 0), true
}
