package testrunanalyzeranalyzer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kataras/tablewriter"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

const (
	outputFormatTable = "table"
	outputFormatYAML  = "yaml"
	outputFormatJSON  = "json"
)

var knownOutputFormats = sets.New[string](outputFormatTable, outputFormatYAML, outputFormatJSON)

type RunSummary struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Tests maps every test case of the run to the number of its tests.
	Tests map[string]int `json:"tests"`
}

// Report is everything one analysis produced.
type Report struct {
	AnalysisID string                              `json:"analysisID"`
	Runs       []RunSummary                        `json:"runs"`
	Artifacts  int                                 `json:"artifacts"`
	Summary    map[testrunanalyzerapi.Severity]int `json:"summary"`
	Results    []testrunanalyzerapi.AnalysisResult `json:"results"`
}

func NewReport(analysisID string, runs []*testrunanalyzerapi.TestRun, artifacts []testrunanalyzerapi.Artifact, collection *testrunanalyzerapi.ResultCollection) *Report {
	report := &Report{
		AnalysisID: analysisID,
		Runs:       []RunSummary{},
		Artifacts:  len(artifacts),
		Summary:    collection.CountBySeverity(),
		Results:    collection.Results(),
	}
	for _, run := range runs {
		summary := RunSummary{
			Name:  run.GetName(),
			Start: run.Start().UTC(),
			End:   run.End().UTC(),
			Tests: map[string]int{},
		}
		for _, testName := range run.TestNames() {
			summary.Tests[testName] = run.Count(testName)
		}
		report.Runs = append(report.Runs, summary)
	}
	return report
}

func (r *Report) Write(out io.Writer, format string) error {
	switch format {
	case outputFormatTable:
		r.writeTable(out)
		return nil
	case outputFormatYAML:
		raw, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		_, err = out.Write(raw)
		return err
	case outputFormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (r *Report) writeTable(out io.Writer) {
	fmt.Fprintf(out, "Analysis %s: %d runs, %d artifacts\n", r.AnalysisID, len(r.Runs), r.Artifacts)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"anchor", "performed at", "analyzer", "severity", "classification", "message"})
	for _, result := range r.Results {
		performedAt := "-"
		if !result.PerformedAt.IsZero() {
			performedAt = result.PerformedAt.UTC().Format(time.RFC3339)
		}
		for _, issue := range result.Issues {
			message := strings.Join(append([]string{issue.Message}, issue.Details...), "\n")
			table.Append([]string{result.Anchor, performedAt, issue.Analyzer, string(issue.Severity), string(issue.Classification), message})
		}
	}
	table.SetFooter([]string{"", "", "", "info " + fmt.Sprint(r.Summary[testrunanalyzerapi.SeverityInfo]), "warning " + fmt.Sprint(r.Summary[testrunanalyzerapi.SeverityWarning]), "fatal " + fmt.Sprint(r.Summary[testrunanalyzerapi.SeverityFatal])})
	table.Render()
}
