package series

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatPayload(n int) json.RawMessage {
	vals := make([]string, n)
	for i := range vals {
		vals[i] = fmt.Sprintf("%d", i)
	}
	return json.RawMessage(`{"values":[` + strings.Join(vals, ",") + `]}`)
}

func TestNormalizeAlwaysReturns24Slots(t *testing.T) {
	n := NewNormalizer(time.UTC)

	inputs := map[string]string{
		"nil":          "",
		"null":         "null",
		"empty object": "{}",
		"empty array":  "[]",
		"garbage":      "{not json",
		"string":       `"hello"`,
		"short flat":   `{"values":[1,2,3]}`,
		"bad rows":     `{"vals":[1,"x",{"label":"noon"},{"label":"3 PM","v":"abc"}]}`,
		"wrong types":  `{"vals":"nope","values":{},"series":[1]}`,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			ts := n.Normalize(json.RawMessage(in))
			assert.Equal(t, Hours, ts.Len())
			assert.Len(t, ts.Values(), Hours)
			assert.True(t, ts.IsEmpty(), "expected all-empty series for %q", in)
		})
	}
}

func TestNormalizeFlatValues(t *testing.T) {
	n := NewNormalizer(time.UTC)

	ts, shape := n.Decode(flatPayload(24))
	assert.Equal(t, ShapeFlat, shape)
	require.Equal(t, Hours, ts.Count())
	for h := 0; h < Hours; h++ {
		v, ok := ts.Get(h)
		require.True(t, ok)
		assert.Equal(t, float64(h), v)
	}
}

func TestNormalizeFlatIgnoresPositionsPast23(t *testing.T) {
	n := NewNormalizer(time.UTC)

	ts := n.Normalize(flatPayload(30))
	assert.Equal(t, Hours, ts.Count())
	v, _ := ts.Get(23)
	assert.Equal(t, 23.0, v)
}

func TestNormalizeBareArray(t *testing.T) {
	n := NewNormalizer(time.UTC)

	raw := `[` + strings.Repeat(`null,`, 23) + `42]`
	ts, shape := n.Decode(json.RawMessage(raw))
	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, 1, ts.Count())
	v, ok := ts.Get(23)
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestNormalizeFlatMinimalRowsDiscardOutOfRangeHours(t *testing.T) {
	n := NewNormalizer(time.UTC)

	rows := make([]string, 0, 24)
	for i := 0; i < 22; i++ {
		rows = append(rows, fmt.Sprintf(`{"value":%d}`, i*10))
	}
	rows = append(rows, `{"hour":24,"value":999}`, `{"hour":-1,"value":999}`)
	raw := `{"values":[` + strings.Join(rows, ",") + `]}`

	ts := n.Normalize(json.RawMessage(raw))
	assert.Equal(t, 22, ts.Count())
	_, ok := ts.Get(22)
	assert.False(t, ok)
	_, ok = ts.Get(23)
	assert.False(t, ok)
	v, _ := ts.Get(21)
	assert.Equal(t, 210.0, v)
}

func TestNormalizeLabeledRows(t *testing.T) {
	n := NewNormalizer(time.UTC)

	raw := `{"metric_type":"time_graph","vals":[
		{"label":"12 AM","v":5},
		{"label":"7 PM","v":"61.5"},
		{"label":"12 PM","value":30},
		{"start":"2024-01-01T08:00:00Z","v":8}
	]}`

	ts, shape := n.Decode(json.RawMessage(raw))
	assert.Equal(t, ShapeLabeledRows, shape)
	assert.Equal(t, 4, ts.Count())

	expect := map[int]float64{0: 5, 19: 61.5, 12: 30, 8: 8}
	for h, want := range expect {
		got, ok := ts.Get(h)
		assert.True(t, ok, "hour %d", h)
		assert.Equal(t, want, got, "hour %d", h)
	}
}

func TestLabelTakesPrecedenceOverTimestamp(t *testing.T) {
	n := NewNormalizer(time.UTC)

	raw := `{"vals":[{"label":"3 PM","start":"2024-01-01T08:00:00Z","v":12}]}`
	ts := n.Normalize(json.RawMessage(raw))

	v, ok := ts.Get(15)
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)
	_, ok = ts.Get(8)
	assert.False(t, ok)
}

func TestTimestampUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	n := NewNormalizer(loc)

	// 15:00 UTC is 10:00 in New York in January.
	raw := `{"vals":[{"start":"2024-01-15T15:00:00Z","v":1},{"ts":1705334400000,"v":2}]}`
	ts := n.Normalize(json.RawMessage(raw))

	v, ok := ts.Get(10)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	// 1705334400000 ms = 2024-01-15T16:00:00Z = 11:00 New York
	v, ok = ts.Get(11)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestNonFiniteAndMissingValuesLeaveSlotEmpty(t *testing.T) {
	n := NewNormalizer(time.UTC)

	raw := `{"vals":[
		{"label":"1 AM","v":"NaN"},
		{"label":"2 AM","v":"Infinity"},
		{"label":"3 AM"},
		{"label":"4 AM","v":null,"value":7},
		{"label":"5 AM","v":9}
	]}`
	ts := n.Normalize(json.RawMessage(raw))

	for _, h := range []int{1, 2, 3} {
		_, ok := ts.Get(h)
		assert.False(t, ok, "hour %d should be empty", h)
	}
	v, ok := ts.Get(4)
	assert.True(t, ok, "null value field falls through to the next one")
	assert.Equal(t, 7.0, v)
	v, ok = ts.Get(5)
	assert.True(t, ok)
	assert.Equal(t, 9.0, v)
}

func TestNormalizeNestedSeries(t *testing.T) {
	n := NewNormalizer(time.UTC)

	raw := `{"series":[{"name":"avg","vals":[{"label":"9 AM","y":90},{"label":"10 AM","seconds":100}]}]}`
	ts, shape := n.Decode(json.RawMessage(raw))
	assert.Equal(t, ShapeNestedSeries, shape)
	assert.Equal(t, 2, ts.Count())
	v, _ := ts.Get(10)
	assert.Equal(t, 100.0, v)
}

func TestRecognizerPrecedence(t *testing.T) {
	n := NewNormalizer(time.UTC)

	// Labeled rows win over a flat array in the same payload.
	raw := `{"vals":[{"label":"1 PM","v":1}],"values":[` + strings.Repeat(`5,`, 23) + `5]}`
	ts, shape := n.Decode(json.RawMessage(raw))
	assert.Equal(t, ShapeLabeledRows, shape)
	assert.Equal(t, 1, ts.Count())
}

func TestHourFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  int
		ok    bool
	}{
		{"12 AM", 0, true},
		{"1 AM", 1, true},
		{"11 AM", 11, true},
		{"12 PM", 12, true},
		{"1 PM", 13, true},
		{"11 PM", 23, true},
		{" 7pm ", 19, true},
		{"7:00 PM", 19, true},
		{"19:00", 0, false},
		{"noon", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := HourFromLabel(tt.label)
		if ok != tt.ok || got != tt.want {
			t.Errorf("HourFromLabel(%q) = %d, %v; want %d, %v", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

// rotatedLabeledRows returns rows labeled "1 AM" through "12 AM" (the next
// midnight), each valued at its labeled hour.
func rotatedLabeledRows(count int) string {
	rows := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		h := i % Hours
		numeral := h % 12
		if numeral == 0 {
			numeral = 12
		}
		meridiem := "AM"
		if h >= 12 {
			meridiem = "PM"
		}
		rows = append(rows, fmt.Sprintf(`{"label":"%d %s","v":%d}`, numeral, meridiem, h))
	}
	return `[` + strings.Join(rows, ",") + `]`
}

func TestLabeledRowsOutsideValsAreKeyedByLabel(t *testing.T) {
	n := NewNormalizer(time.UTC)

	tests := []struct {
		name  string
		raw   string
		count int
	}{
		{"bare array", rotatedLabeledRows(24), 24},
		{"under values", `{"values":` + rotatedLabeledRows(24) + `}`, 24},
		{"short bare array", rotatedLabeledRows(6), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, shape := n.Decode(json.RawMessage(tt.raw))
			assert.Equal(t, ShapeLabeledRows, shape)
			assert.Equal(t, tt.count, ts.Count())
			for h := 0; h < Hours; h++ {
				v, ok := ts.Get(h)
				if !ok {
					continue
				}
				assert.Equal(t, float64(h), v, "slot %d holds its labeled hour", h)
			}
			if tt.count == Hours {
				v, ok := ts.Get(15)
				require.True(t, ok)
				assert.Equal(t, 15.0, v)
			}
		})
	}
}

func TestFlatRowsPreferLabelOverPosition(t *testing.T) {
	n := NewNormalizer(time.UTC)

	dec := json.NewDecoder(strings.NewReader(rotatedLabeledRows(24)))
	dec.UseNumber()
	var payload any
	require.NoError(t, dec.Decode(&payload))

	ts, ok := recognizeFlat(n, payload)
	require.True(t, ok)
	assert.Equal(t, Hours, ts.Count())
	v, ok := ts.Get(15)
	require.True(t, ok)
	assert.Equal(t, 15.0, v, "label wins over position 14")
	v, ok = ts.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0.0, v, "trailing 12 AM row lands in slot 0")
}

func TestZonelessTimestampUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	n := NewNormalizer(loc)

	raw := `{"vals":[
		{"start":"2024-01-15T10:00:00","v":1},
		{"start":"2024-01-15 11:30:00","v":2},
		{"start":"2024-01-15T15:00:00Z","v":3}
	]}`
	ts := n.Normalize(json.RawMessage(raw))

	v, ok := ts.Get(10)
	assert.True(t, ok, "zoneless timestamp is wall-clock time in the location")
	assert.Equal(t, 3.0, v, "15:00Z is 10:00 New York and overwrites the same slot")
	v, ok = ts.Get(11)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, ok = ts.Get(15)
	assert.False(t, ok)
}
