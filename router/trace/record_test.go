package trace

import (
	"strings"
	"testing"
	"time"
)

func sampleRecord() DecisionRecord {
	return DecisionRecord{
		Timestamp:     time.UnixMilli(1735689600123),
		TokenCount:    2048,
		PrefixID:      "chat-1",
		ReuseAfter:    3,
		ChosenWorker:  "w-a",
		OverlapChosen: 0.625,
		DecodeCost:    2,
		PrefillCost:   2,
		InterArrival:  "LOW",
		Stickiness:    1.5,
		LoadModifier:  0.75,
	}
}

func TestDecisionRecord_RowColumnOrder(t *testing.T) {
	// GIVEN a record with distinct values per column
	rec := sampleRecord()

	// WHEN rendered
	row := rec.Row()

	// THEN values follow the header order exactly
	want := "1735689600123,2048,chat-1,3,w-a,0.625,2,2,LOW,1.5,0.75"
	if got := strings.Join(row, ","); got != want {
		t.Errorf("Row() = %s, want %s", got, want)
	}
	if len(row) != len(Columns) {
		t.Errorf("Row() has %d fields, Columns has %d", len(row), len(Columns))
	}
}

func TestParseRow_InvertsRow(t *testing.T) {
	rec := sampleRecord()
	got, err := ParseRow(rec.Row())
	if err != nil {
		t.Fatalf("ParseRow: %v", err)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp %v, want %v", got.Timestamp, rec.Timestamp)
	}
	got.Timestamp = rec.Timestamp
	if got != rec {
		t.Errorf("ParseRow(Row()) = %+v, want %+v", got, rec)
	}
}

func TestParseRow_Errors(t *testing.T) {
	tests := []struct {
		name string
		row  []string
	}{
		{"too few columns", []string{"1", "2"}},
		{"bad timestamp", []string{"x", "1", "p", "0", "w", "0", "1", "1", "LOW", "0", "0"}},
		{"bad overlap", []string{"1", "1", "p", "0", "w", "lots", "1", "1", "LOW", "0", "0"}},
		{"bad load", []string{"1", "1", "p", "0", "w", "0", "1", "1", "LOW", "0", "?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRow(tt.row); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecisionRecord_OverlapSentinel(t *testing.T) {
	rec := sampleRecord()
	if !rec.OverlapAvailable() {
		t.Error("0.625 overlap reported as unavailable")
	}
	rec.OverlapChosen = 0
	if !rec.OverlapAvailable() {
		t.Error("genuine zero overlap reported as unavailable")
	}
	rec.OverlapChosen = OverlapUnavailable
	if rec.OverlapAvailable() {
		t.Error("sentinel reported as available")
	}
	if got := rec.Row()[5]; got != "-1" {
		t.Errorf("sentinel rendered as %q, want -1", got)
	}
}
