package testrunanalyzerapi

import (
	"sort"
	"sync"
	"time"
)

type Classification string

const (
	ClassificationMissingData        Classification = "MissingData"
	ClassificationEnvironmentProblem Classification = "EnvironmentProblem"
	ClassificationFunctional         Classification = "Functional"
	ClassificationPerformance        Classification = "Performance"
)

type Severity string

const (
	SeverityInfo    Severity = "Info"
	SeverityWarning Severity = "Warning"
	SeverityFatal   Severity = "Fatal"
)

type Issue struct {
	Analyzer       string         `json:"analyzer"`
	Message        string         `json:"message"`
	Classification Classification `json:"classification"`
	Severity       Severity       `json:"severity"`
	Details        []string       `json:"details,omitempty"`
}

// AnalysisResult holds all issues attached to one anchor.
type AnalysisResult struct {
	Anchor      string    `json:"anchor"`
	PerformedAt time.Time `json:"performedAt"`
	Issues      []Issue   `json:"issues"`
}

// ResultCollection is the IssueSink the analyzers publish into. It is safe for concurrent use.
type ResultCollection struct {
	lock     sync.Mutex
	byAnchor map[string]*AnalysisResult
}

var _ IssueSink = &ResultCollection{}

func NewResultCollection() *ResultCollection {
	return &ResultCollection{
		byAnchor: map[string]*AnalysisResult{},
	}
}

// AddIssue attaches an issue to an anchor. A nil anchor collects issues that concern the whole analysis.
func (c *ResultCollection) AddIssue(anchor Anchor, issue Issue) {
	c.lock.Lock()
	defer c.lock.Unlock()

	name, performedAt := "", time.Time{}
	if anchor != nil {
		name, performedAt = anchor.GetName(), anchor.GetPerformedAt()
	}
	result, ok := c.byAnchor[name]
	if !ok {
		result = &AnalysisResult{
			Anchor:      name,
			PerformedAt: performedAt,
		}
		c.byAnchor[name] = result
	}
	result.Issues = append(result.Issues, issue)
}

// Results returns a copy of the collected results ordered by anchor time, then anchor name.
func (c *ResultCollection) Results() []AnalysisResult {
	c.lock.Lock()
	defer c.lock.Unlock()

	ret := make([]AnalysisResult, 0, len(c.byAnchor))
	for _, result := range c.byAnchor {
		copied := *result
		copied.Issues = append([]Issue{}, result.Issues...)
		ret = append(ret, copied)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].PerformedAt.Equal(ret[j].PerformedAt) {
			return ret[i].PerformedAt.Before(ret[j].PerformedAt)
		}
		return ret[i].Anchor < ret[j].Anchor
	})
	return ret
}

func (c *ResultCollection) CountBySeverity() map[Severity]int {
	c.lock.Lock()
	defer c.lock.Unlock()

	ret := map[Severity]int{}
	for _, result := range c.byAnchor {
		for _, issue := range result.Issues {
			ret[issue.Severity]++
		}
	}
	return ret
}

// Rows flattens the collection into BigQuery rows tagged with the given analysis ID.
func (c *ResultCollection) Rows(analysisID string) []*IssueRow {
	var ret []*IssueRow
	for _, result := range c.Results() {
		for i, issue := range result.Issues {
			ret = append(ret, &IssueRow{
				AnalysisID:  analysisID,
				Anchor:      result.Anchor,
				PerformedAt: result.PerformedAt,
				Index:       i,
				Issue:       issue,
			})
		}
	}
	return ret
}
