package testrunanalyzerapi

import (
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestResultCollection(t *testing.T) {
	early := fakeArtifact("A", 0)
	late := fakeArtifact("B", time.Hour)

	collection := NewResultCollection()
	collection.AddIssue(late, Issue{Analyzer: "x", Message: "late", Classification: ClassificationPerformance, Severity: SeverityWarning})
	collection.AddIssue(nil, Issue{Analyzer: "x", Message: "global", Classification: ClassificationEnvironmentProblem, Severity: SeverityInfo})
	collection.AddIssue(early, Issue{Analyzer: "x", Message: "early", Classification: ClassificationMissingData, Severity: SeverityWarning})
	collection.AddIssue(early, Issue{Analyzer: "y", Message: "early again", Classification: ClassificationFunctional, Severity: SeverityFatal, Details: []string{"a", "b"}})

	var messages [][]string
	for _, result := range collection.Results() {
		var perAnchor []string
		for _, issue := range result.Issues {
			perAnchor = append(perAnchor, issue.Message)
		}
		messages = append(messages, perAnchor)
	}
	expected := [][]string{{"global"}, {"early", "early again"}, {"late"}}
	if diff := cmp.Diff(expected, messages); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	assert.Equal(t, map[Severity]int{SeverityInfo: 1, SeverityWarning: 2, SeverityFatal: 1}, collection.CountBySeverity())

	rows := collection.Rows("analysis-1")
	assert.Len(t, rows, 4)
	row, insertID, err := rows[2].Save()
	assert.NoError(t, err)
	assert.Equal(t, "analysis-1/"+early.GetName()+"/1", insertID)
	assert.Equal(t, map[string]bigquery.Value{
		"AnalysisID":     "analysis-1",
		"Anchor":         early.GetName(),
		"PerformedAt":    early.GetPerformedAt(),
		"Analyzer":       "y",
		"Classification": "Functional",
		"Severity":       "Fatal",
		"Message":        "early again",
		"Details":        "a\nb",
	}, row)

	globalRow, _, _ := rows[0].Save()
	_, hasTime := globalRow["PerformedAt"]
	assert.False(t, hasTime)
}
