package series

import (
	"encoding/json"
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestAverageIgnoresEmptySlots(t *testing.T) {
	ts := FromValues([]*float64{nil, ptr(10), ptr(20), nil, ptr(30)})

	avg, ok := ts.Average(0, 4)
	if !ok {
		t.Fatal("expected an average")
	}
	if avg != 20 {
		t.Errorf("expected average 20, got %v", avg)
	}
}

func TestAverageEmptyRange(t *testing.T) {
	ts := FromValues([]*float64{ptr(1)})

	if _, ok := ts.Average(5, 10); ok {
		t.Error("expected no average for an empty range")
	}
	if _, ok := (TimeSeries{}).Average(0, 23); ok {
		t.Error("expected no average for an empty series")
	}
}

func TestAverageClampsRangeToSeries(t *testing.T) {
	values := make([]*float64, Hours)
	values[0] = ptr(2)
	values[23] = ptr(4)
	ts := FromValues(values)

	avg, ok := ts.Average(-5, 99)
	if !ok || avg != 3 {
		t.Errorf("expected 3, got %v (ok=%v)", avg, ok)
	}
}

func TestFromValuesDropsOutOfRangeAndNonFinite(t *testing.T) {
	values := make([]*float64, 30)
	values[1] = ptr(math.NaN())
	values[2] = ptr(math.Inf(1))
	values[3] = ptr(3)
	values[27] = ptr(27)

	ts := FromValues(values)
	if ts.Count() != 1 {
		t.Fatalf("expected 1 value, got %d", ts.Count())
	}
	if len(ts.Values()) != Hours {
		t.Errorf("expected %d slots, got %d", Hours, len(ts.Values()))
	}
}

func TestSeriesJSONRoundTrip(t *testing.T) {
	ts := FromValues([]*float64{nil, ptr(1.5)})

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var arr []*float64
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(arr) != Hours {
		t.Fatalf("expected %d entries, got %d", Hours, len(arr))
	}
	if arr[0] != nil || arr[1] == nil || *arr[1] != 1.5 {
		t.Errorf("unexpected encoding: %s", data)
	}

	var back TimeSeries
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal series: %v", err)
	}
	if back != ts {
		t.Errorf("round trip mismatch: %s", data)
	}
}
