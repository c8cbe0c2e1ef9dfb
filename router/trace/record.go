// Package trace records routing decisions for offline analysis.
// This package has no dependencies on router/; it stores pure data types.
package trace

import (
	"fmt"
	"strconv"
	"time"
)

// OverlapUnavailable is recorded as overlap_chosen when the cache overlap
// oracle gave no answer for the decision.
const OverlapUnavailable = -1.0

// Columns is the CSV header of the decision log, in order.
var Columns = []string{
	"ts_epoch_ms",
	"tokens_len",
	"prefix_id",
	"reuse_after",
	"chosen_worker",
	"overlap_chosen",
	"decode_cost",
	"prefill_cost",
	"iat_level",
	"stickiness",
	"load_mod",
}

// DecisionRecord captures a single routing decision.
type DecisionRecord struct {
	Timestamp     time.Time
	TokenCount    int
	PrefixID      string
	ReuseAfter    int     // expected group size minus requests routed for the prefix so far
	ChosenWorker  string
	OverlapChosen float64 // [0,1], or OverlapUnavailable
	DecodeCost    float64
	PrefillCost   float64
	InterArrival  string  // LOW, MEDIUM or HIGH
	Stickiness    float64 // stickiness applied to the chosen worker (0 if not affine)
	LoadModifier  float64 // chosen worker's relative load
}

// OverlapAvailable reports whether the oracle answered for this decision.
func (r DecisionRecord) OverlapAvailable() bool {
	return r.OverlapChosen != OverlapUnavailable
}

// Row renders the record in Columns order.
func (r DecisionRecord) Row() []string {
	return []string{
		strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		strconv.Itoa(r.TokenCount),
		r.PrefixID,
		strconv.Itoa(r.ReuseAfter),
		r.ChosenWorker,
		formatFloat(r.OverlapChosen),
		formatFloat(r.DecodeCost),
		formatFloat(r.PrefillCost),
		r.InterArrival,
		formatFloat(r.Stickiness),
		formatFloat(r.LoadModifier),
	}
}

// ParseRow is the inverse of Row.
func ParseRow(row []string) (DecisionRecord, error) {
	if len(row) != len(Columns) {
		return DecisionRecord{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(row))
	}
	var (
		rec  DecisionRecord
		err  error
		errs []error
	)
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("ts_epoch_ms: %w", err))
	}
	rec.Timestamp = time.UnixMilli(ms)
	if rec.TokenCount, err = strconv.Atoi(row[1]); err != nil {
		errs = append(errs, fmt.Errorf("tokens_len: %w", err))
	}
	rec.PrefixID = row[2]
	if rec.ReuseAfter, err = strconv.Atoi(row[3]); err != nil {
		errs = append(errs, fmt.Errorf("reuse_after: %w", err))
	}
	rec.ChosenWorker = row[4]
	floatsOut := []*float64{&rec.OverlapChosen, &rec.DecodeCost, &rec.PrefillCost}
	for i, dst := range floatsOut {
		if *dst, err = strconv.ParseFloat(row[5+i], 64); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Columns[5+i], err))
		}
	}
	rec.InterArrival = row[8]
	if rec.Stickiness, err = strconv.ParseFloat(row[9], 64); err != nil {
		errs = append(errs, fmt.Errorf("stickiness: %w", err))
	}
	if rec.LoadModifier, err = strconv.ParseFloat(row[10], 64); err != nil {
		errs = append(errs, fmt.Errorf("load_mod: %w", err))
	}
	if len(errs) > 0 {
		return DecisionRecord{}, errs[0]
	}
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
