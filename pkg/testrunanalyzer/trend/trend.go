package trend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

var ErrInvalidTrend = errors.New("invalid trend")

// Marker is one boundary of a trend: the position in the observed series and, when
// known, the item the boundary is attached to.
type Marker struct {
	Step   int
	Anchor testrunanalyzerapi.Anchor
}

func (m *Marker) String() string {
	if m == nil {
		return "<none>"
	}
	if m.Anchor == nil {
		return fmt.Sprintf("step %d", m.Step)
	}
	return fmt.Sprintf("step %d (%s)", m.Step, m.Anchor.GetName())
}

// Trend is a half open interval of a series during which a change of Magnitude was
// observed. Start is nil when the trend predates the observed window. End is set exactly once.
type Trend struct {
	Start     *Marker
	End       *Marker
	Magnitude int
	Reason    string

	OpenedAt int
	// ClosedAt and ClosingDelta are only meaningful once End is set.
	ClosedAt     int
	ClosingDelta int

	seq int
}

// IsUnfinished is true while the trend waits for a delta that balances it.
func (t *Trend) IsUnfinished() bool {
	return t.Start != nil && t.End == nil
}

func (t *Trend) IsFinished() bool {
	return t.End != nil
}

// IsBalancedBy reports whether delta cancels this trend on its own.
func (t *Trend) IsBalancedBy(delta int) bool {
	return t.Magnitude+delta == 0
}

func (t *Trend) boundary() *Marker {
	if t.Start != nil {
		return t.Start
	}
	return t.End
}

// Collection owns the trends of one series.
type Collection struct {
	trends []*Trend
}

func NewCollection() *Collection {
	return &Collection{}
}

// Add records a new trend. A trend created with an end marker is finished right away.
func (c *Collection) Add(start, end *Marker, magnitude int, reason string, step int) (*Trend, error) {
	switch {
	case start == nil && end == nil:
		return nil, fmt.Errorf("%w: a trend needs a start or an end", ErrInvalidTrend)
	case magnitude == 0:
		return nil, fmt.Errorf("%w: magnitude must not be zero", ErrInvalidTrend)
	case len(reason) == 0:
		return nil, fmt.Errorf("%w: reason must not be empty", ErrInvalidTrend)
	}

	t := &Trend{
		Start:     start,
		End:       end,
		Magnitude: magnitude,
		Reason:    reason,
		OpenedAt:  step,
		seq:       len(c.trends),
	}
	if end != nil {
		t.ClosedAt = step
		t.ClosingDelta = -magnitude
	}
	c.trends = append(c.trends, t)
	return t, nil
}

// Trends returns all trends ordered by their first boundary.
func (c *Collection) Trends() []*Trend {
	ret := append([]*Trend{}, c.trends...)
	sort.SliceStable(ret, func(i, j int) bool {
		a, b := ret[i].boundary(), ret[j].boundary()
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.Anchor != nil && b.Anchor != nil && !a.Anchor.GetPerformedAt().Equal(b.Anchor.GetPerformedAt()) {
			return a.Anchor.GetPerformedAt().Before(b.Anchor.GetPerformedAt())
		}
		return ret[i].seq < ret[j].seq
	})
	return ret
}

func (c *Collection) Unfinished() []*Trend {
	var ret []*Trend
	for _, t := range c.Trends() {
		if t.IsUnfinished() {
			ret = append(ret, t)
		}
	}
	return ret
}

func (c *Collection) Finished() []*Trend {
	var ret []*Trend
	for _, t := range c.Trends() {
		if t.IsFinished() {
			ret = append(ret, t)
		}
	}
	return ret
}

func (c *Collection) Len() int {
	return len(c.trends)
}

// balancingIndex returns the index into unfinished from which all trends up to the most
// recent one are cancelled by delta, -1 if there is none. The most recent trend alone is
// preferred, then the shortest suffix whose magnitudes sum up to -delta.
func balancingIndex(unfinished []*Trend, delta int) int {
	sum := 0
	for i := len(unfinished) - 1; i >= 0; i-- {
		sum += unfinished[i].Magnitude
		if sum+delta == 0 {
			return i
		}
	}
	return -1
}

// CanClose reports whether delta would close at least one unfinished trend.
func (c *Collection) CanClose(delta int) bool {
	return balancingIndex(c.Unfinished(), delta) >= 0
}

// TryClose ends the unfinished trends cancelled by delta and returns how many were closed.
// Zero means no combination balances and the caller is expected to open a new trend.
func (c *Collection) TryClose(delta int, end *Marker, step int) int {
	unfinished := c.Unfinished()
	from := balancingIndex(unfinished, delta)
	if from < 0 {
		return 0
	}
	if end == nil {
		end = &Marker{Step: step}
	}
	for _, t := range unfinished[from:] {
		t.End = end
		t.ClosedAt = step
		t.ClosingDelta = delta
	}
	return len(unfinished) - from
}
