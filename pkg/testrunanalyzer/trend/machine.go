package trend

import (
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

const (
	ReasonLeadingGap  = "No tests at the beginning of the observed runs"
	ReasonTrendStarts = "Test count difference trend starts"
)

type Decision int

const (
	// DecisionNone means the window shows no change worth tracking.
	DecisionNone Decision = iota
	// DecisionSuppress means the window is part of a single step outlier.
	DecisionSuppress
	DecisionOpen
	DecisionCloseOne
	DecisionCloseMany
	DecisionStartGap
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionSuppress:
		return "suppress"
	case DecisionOpen:
		return "open"
	case DecisionCloseOne:
		return "close-one"
	case DecisionCloseMany:
		return "close-many"
	case DecisionStartGap:
		return "start-gap"
	default:
		return "unknown"
	}
}

// Window is three consecutive counts of a series starting at Step. Current and Next are
// the items behind Counts[0] and Counts[1], they may be empty when only counts are known.
type Window struct {
	Step    int
	Counts  [3]int
	Current []testrunanalyzerapi.Anchor
	Next    []testrunanalyzerapi.Anchor
}

func NewWindow(step int, groups [3][]testrunanalyzerapi.Anchor) Window {
	return Window{
		Step:    step,
		Counts:  [3]int{len(groups[0]), len(groups[1]), len(groups[2])},
		Current: groups[0],
		Next:    groups[1],
	}
}

func NewCountWindow(step, current, next, afterNext int) Window {
	return Window{
		Step:   step,
		Counts: [3]int{current, next, afterNext},
	}
}

// anchor is the first item of the next group, the last item of the current group when the
// next one is empty.
func (w Window) anchor() *Marker {
	if len(w.Next) > 0 {
		return &Marker{Step: w.Step + 1, Anchor: w.Next[0]}
	}
	if len(w.Current) > 0 {
		return &Marker{Step: w.Step, Anchor: w.Current[len(w.Current)-1]}
	}
	return &Marker{Step: w.Step + 1}
}

// Machine tracks the trends of one series. It is fed one window per step and is not safe
// for concurrent use.
type Machine struct {
	trends *Collection

	observed       int
	outlierPending bool
	leadingGap     bool
}

func NewMachine() *Machine {
	return &Machine{trends: NewCollection()}
}

func (m *Machine) Trends() *Collection {
	return m.trends
}

// isOutlier detects X, Y, X windows. A detected outlier also suppresses the following
// window, which sees the same blip from the other side.
func (m *Machine) isOutlier(current, next, afterNext int) bool {
	if m.outlierPending {
		m.outlierPending = false
		return true
	}
	if current == afterNext && next != current {
		m.outlierPending = true
	}
	return m.outlierPending
}

func isATrend(currentDelta, nextDelta int) bool {
	return currentDelta != 0 && currentDelta+nextDelta != 0
}

func (m *Machine) Observe(w Window) (Decision, error) {
	defer func() { m.observed++ }()

	current, next, afterNext := w.Counts[0], w.Counts[1], w.Counts[2]
	currentDelta := current - next
	nextDelta := next - afterNext

	if m.observed == 0 && current == 0 && currentDelta == 0 && nextDelta == 0 {
		m.leadingGap = true
	}
	if m.leadingGap && current == 0 && currentDelta < 0 {
		m.leadingGap = false
		if _, err := m.trends.Add(nil, w.anchor(), currentDelta, ReasonLeadingGap, w.Step); err != nil {
			return DecisionNone, err
		}
		return DecisionStartGap, nil
	}

	if m.isOutlier(current, next, afterNext) {
		return DecisionSuppress, nil
	}
	if !isATrend(currentDelta, nextDelta) {
		return DecisionNone, nil
	}

	marker := w.anchor()
	switch closed := m.trends.TryClose(currentDelta, marker, w.Step); {
	case closed == 1:
		return DecisionCloseOne, nil
	case closed > 1:
		return DecisionCloseMany, nil
	}
	if _, err := m.trends.Add(marker, nil, currentDelta, ReasonTrendStarts, w.Step); err != nil {
		return DecisionNone, err
	}
	return DecisionOpen, nil
}

// ObserveCounts feeds every window of three consecutive counts of the series.
func (m *Machine) ObserveCounts(counts []int) ([]Decision, error) {
	var decisions []Decision
	for i := 0; i+2 < len(counts); i++ {
		decision, err := m.Observe(NewCountWindow(i, counts[i], counts[i+1], counts[i+2]))
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// ObserveGroups feeds every window of three consecutive groups of the series.
func (m *Machine) ObserveGroups(groups [][]testrunanalyzerapi.Anchor) ([]Decision, error) {
	var decisions []Decision
	for i := 0; i+2 < len(groups); i++ {
		decision, err := m.Observe(NewWindow(i, [3][]testrunanalyzerapi.Anchor{groups[i], groups[i+1], groups[i+2]}))
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}
