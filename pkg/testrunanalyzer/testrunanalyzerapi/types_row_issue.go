package testrunanalyzerapi

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

const (
	IssuesTableName = "TestRunIssues"

	IssuesSchema = `
[
  {
    "name": "AnalysisID",
    "description": "identifier of the analysis that produced the issue",
    "type": "STRING",
    "mode": "REQUIRED"
  },
  {
    "name": "Anchor",
    "description": "artifact or run the issue is attached to, empty for the whole analysis",
    "type": "STRING",
    "mode": "NULLABLE"
  },
  {
    "name": "PerformedAt",
    "description": "time of the anchor",
    "type": "TIMESTAMP",
    "mode": "NULLABLE"
  },
  {
    "name": "Analyzer",
    "type": "STRING",
    "mode": "REQUIRED"
  },
  {
    "name": "Classification",
    "description": "MissingData, EnvironmentProblem, Functional, Performance",
    "type": "STRING",
    "mode": "REQUIRED"
  },
  {
    "name": "Severity",
    "description": "Info, Warning, Fatal",
    "type": "STRING",
    "mode": "REQUIRED"
  },
  {
    "name": "Message",
    "type": "STRING",
    "mode": "REQUIRED"
  },
  {
    "name": "Details",
    "type": "STRING",
    "mode": "NULLABLE"
  }
]
`
)

type IssueRow struct {
	AnalysisID  string
	Anchor      string
	PerformedAt time.Time
	// Index is the position of the issue among the issues of its anchor.
	Index int
	Issue Issue
}

var _ bigquery.ValueSaver = &IssueRow{}

func (v *IssueRow) Save() (map[string]bigquery.Value, string, error) {
	insertID := fmt.Sprintf("%s/%s/%d", v.AnalysisID, v.Anchor, v.Index)
	row := map[string]bigquery.Value{
		"AnalysisID":     v.AnalysisID,
		"Anchor":         v.Anchor,
		"Analyzer":       v.Issue.Analyzer,
		"Classification": string(v.Issue.Classification),
		"Severity":       string(v.Issue.Severity),
		"Message":        v.Issue.Message,
		"Details":        strings.Join(v.Issue.Details, "\n"),
	}
	if !v.PerformedAt.IsZero() {
		row["PerformedAt"] = v.PerformedAt
	}
	return row, insertID, nil
}
