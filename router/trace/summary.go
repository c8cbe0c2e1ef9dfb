package trace

import (
	"fmt"
	"io"
	"sort"
)

// Summary aggregates statistics from a decision log.
type Summary struct {
	TotalDecisions     int
	UniquePrefixes     int
	UniqueTargets      int
	OverlapUnavailable int     // decisions made without an oracle answer
	MeanOverlap        float64 // over decisions with an oracle answer
	StickyDecisions    int     // decisions that landed on the prefix's affine worker
	TargetDistribution map[string]int
	// Imbalance is max(requests per worker) / mean(requests per worker); 1 is perfect.
	Imbalance float64
}

// Summarize computes aggregate statistics. Safe for nil or empty input.
func Summarize(records []DecisionRecord) *Summary {
	s := &Summary{TargetDistribution: make(map[string]int)}
	if len(records) == 0 {
		return s
	}

	prefixes := make(map[string]struct{})
	overlapSum := 0.0
	overlapN := 0
	for _, r := range records {
		s.TotalDecisions++
		s.TargetDistribution[r.ChosenWorker]++
		prefixes[r.PrefixID] = struct{}{}
		if r.OverlapAvailable() {
			overlapSum += r.OverlapChosen
			overlapN++
		} else {
			s.OverlapUnavailable++
		}
		if r.Stickiness > 0 {
			s.StickyDecisions++
		}
	}
	s.UniquePrefixes = len(prefixes)
	s.UniqueTargets = len(s.TargetDistribution)
	if overlapN > 0 {
		s.MeanOverlap = overlapSum / float64(overlapN)
	}

	maxCount := 0
	for _, n := range s.TargetDistribution {
		if n > maxCount {
			maxCount = n
		}
	}
	mean := float64(s.TotalDecisions) / float64(s.UniqueTargets)
	s.Imbalance = float64(maxCount) / mean
	return s
}

// Print writes the summary in human-readable form.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Decision Summary ===")
	fmt.Fprintf(w, "Decisions:            %d\n", s.TotalDecisions)
	fmt.Fprintf(w, "Unique prefixes:      %d\n", s.UniquePrefixes)
	fmt.Fprintf(w, "Sticky decisions:     %d\n", s.StickyDecisions)
	fmt.Fprintf(w, "Overlap unavailable:  %d\n", s.OverlapUnavailable)
	fmt.Fprintf(w, "Mean overlap:         %.3f\n", s.MeanOverlap)
	fmt.Fprintf(w, "Imbalance (max/mean): %.3f\n", s.Imbalance)
	ids := make([]string, 0, len(s.TargetDistribution))
	for id := range s.TargetDistribution {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-16s %d\n", id, s.TargetDistribution[id])
	}
}
