package testcountanalyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerlib"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/trend"
)

const AnalyzerName = "TestCount"

// testCountAnalyzer looks for lasting changes of the number of tests a test case
// contributes to consecutive runs. Single run blips are ignored.
type testCountAnalyzer struct {
	expectedTests sets.Set[string]
	logger        logrus.FieldLogger
}

// NewTestCountAnalyzer checks the test cases matching expectedTests, or every test case seen
// in the runs when expectedTests is empty.
func NewTestCountAnalyzer(expectedTests sets.Set[string], logger logrus.FieldLogger) testrunanalyzerapi.Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &testCountAnalyzer{
		expectedTests: expectedTests,
		logger:        logger.WithField("analyzer", AnalyzerName),
	}
}

func (a *testCountAnalyzer) Name() string {
	return AnalyzerName
}

func (a *testCountAnalyzer) AnalyzeArtifact(context.Context, testrunanalyzerapi.Artifact, testrunanalyzerapi.IssueSink) error {
	return nil
}

func (a *testCountAnalyzer) AnalyzeRuns(ctx context.Context, runs []*testrunanalyzerapi.TestRun, sink testrunanalyzerapi.IssueSink) error {
	testNames := sets.New[string]()
	for _, run := range runs {
		for _, testName := range run.TestNames() {
			if testrunanalyzerlib.MatchesTestName(a.expectedTests, testName) {
				testNames.Insert(testName)
			}
		}
	}
	// a literal name is checked even when no run has a test of it
	for pattern := range a.expectedTests {
		if !strings.Contains(pattern, "*") {
			testNames.Insert(pattern)
		}
	}

	for _, testName := range sets.List(testNames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		trends, err := TrendsOf(runs, testName)
		if err != nil {
			return fmt.Errorf("failed to analyze test count of %q: %w", testName, err)
		}
		a.logger.WithFields(logrus.Fields{"test": testName, "trends": len(trends)}).Debug("Analyzed test count")
		for _, t := range trends {
			sink.AddIssue(anchorOf(t, runs), issueFor(testName, t))
		}
	}
	return nil
}

// TrendsOf runs the trend machine over the tests of one test case in consecutive runs.
func TrendsOf(runs []*testrunanalyzerapi.TestRun, testName string) ([]*trend.Trend, error) {
	groups := make([][]testrunanalyzerapi.Anchor, 0, len(runs))
	for _, run := range runs {
		var group []testrunanalyzerapi.Anchor
		for _, artifact := range run.Tests(testName) {
			group = append(group, artifact)
		}
		groups = append(groups, group)
	}

	machine := trend.NewMachine()
	if _, err := machine.ObserveGroups(groups); err != nil {
		return nil, err
	}
	return machine.Trends().Trends(), nil
}

// anchorOf attaches a trend to the artifact it starts at, or to the run of its boundary when
// no artifact is known.
func anchorOf(t *trend.Trend, runs []*testrunanalyzerapi.TestRun) testrunanalyzerapi.Anchor {
	for _, marker := range []*trend.Marker{t.Start, t.End} {
		if marker == nil {
			continue
		}
		if marker.Anchor != nil {
			return marker.Anchor
		}
		if marker.Step >= 0 && marker.Step < len(runs) {
			return runs[marker.Step]
		}
	}
	return nil
}

func issueFor(testName string, t *trend.Trend) testrunanalyzerapi.Issue {
	change := fmt.Sprintf("%d tests missing", t.Magnitude)
	if t.Magnitude < 0 {
		change = fmt.Sprintf("%d tests added", -t.Magnitude)
	}
	status := "open"
	if t.IsFinished() {
		status = "closed"
	}

	return testrunanalyzerapi.Issue{
		Analyzer:       AnalyzerName,
		Message:        fmt.Sprintf("%s: %s, %s", t.Reason, testName, change),
		Classification: testrunanalyzerapi.ClassificationMissingData,
		Severity:       testrunanalyzerapi.SeverityWarning,
		Details: []string{
			"Start:          " + t.Start.String(),
			"Start at:       " + performedAt(t.Start),
			"End:            " + t.End.String(),
			"End at:         " + performedAt(t.End),
			fmt.Sprintf("Count change:   %d", -t.Magnitude),
			"Status:         " + status,
		},
	}
}

func performedAt(marker *trend.Marker) string {
	if marker == nil || marker.Anchor == nil {
		return "-"
	}
	return marker.Anchor.GetPerformedAt().UTC().Format(time.RFC3339)
}
