package testrunanalyzeranalyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"k8s.io/apimachinery/pkg/util/sets"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/openshift/testrun-analyzer/pkg/results"
	"github.com/openshift/testrun-analyzer/pkg/testhelper"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/anomaly"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/metricanalyzer"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testcountanalyzer"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerlib"
)

var baseTime = time.Date(2022, 3, 1, 8, 0, 0, 0, time.UTC)

func artifactPath(testName string, run, index int) string {
	performedAt := baseTime.Add(time.Duration(run)*24*time.Hour + time.Duration(index)*time.Minute)
	return fmt.Sprintf("/data/%s_100msHOST.%s.json", testName, performedAt.Format("20060102-150405"))
}

// brokenArtifact is listed but has no file behind it.
var brokenArtifact = artifactPath("B", 2, 10)

// newArtifacts writes five daily runs. Test case A loses two tests in runs 1 and 2, test case B
// runs once per run.
func newArtifacts(t *testing.T) (afero.Fs, []testrunanalyzerapi.Artifact) {
	t.Helper()
	fs := afero.NewMemMapFs()
	var artifacts []testrunanalyzerapi.Artifact
	for run, count := range []int{5, 3, 3, 5, 5} {
		for i := 0; i < count; i++ {
			path := artifactPath("A", run, i)
			require.NoError(t, afero.WriteFile(fs, path, []byte(`{"metrics":{"cpuMs":50}}`), 0644))
			artifacts = append(artifacts, testrunanalyzerapi.NewFilesystemArtifact(fs, path, time.Time{}))
		}
		path := artifactPath("B", run, 10)
		if path != brokenArtifact {
			require.NoError(t, afero.WriteFile(fs, path, []byte("durationMs: 100\n"), 0644))
		}
		artifacts = append(artifacts, testrunanalyzerapi.NewFilesystemArtifact(fs, path, time.Time{}))
	}
	return fs, artifacts
}

type recordingInserter struct {
	rows []*testrunanalyzerapi.IssueRow
	err  error
}

func (r *recordingInserter) Put(_ context.Context, src interface{}) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, src.([]*testrunanalyzerapi.IssueRow)...)
	return nil
}

func newOptions(t *testing.T, artifacts []testrunanalyzerapi.Artifact, listErr error) *TestRunAnalyzerOptions {
	t.Helper()
	enumerator := testrunanalyzerlib.NewMockCandidateEnumerator(gomock.NewController(t))
	enumerator.EXPECT().ListArtifacts(gomock.Any()).Return(artifacts, listErr)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	metricAnalyzer, err := metricanalyzer.NewMetricAnalyzer(anomaly.DefaultFactor, []string{"cpuMs"}, logger)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	require.NoError(t, testrunanalyzerlib.RegisterMetrics(registry))

	selection := testrunanalyzerlib.NewRunSelection()
	selection.LastNDays = 30
	return &TestRunAnalyzerOptions{
		enumerator: enumerator,
		selection:  selection,
		analyzers: []testrunanalyzerapi.Analyzer{
			testcountanalyzer.NewTestCountAnalyzer(sets.New[string](), logger),
			metricAnalyzer,
		},
		readerOptions: []testrunanalyzerlib.PrefetchOption{
			testrunanalyzerlib.WithMaxParallel(2),
			testrunanalyzerlib.WithLookAhead(3),
			testrunanalyzerlib.WithLogger(logger),
		},
		clock:        clocktesting.NewFakePassiveClock(time.Date(2022, 3, 10, 0, 0, 0, 0, time.UTC)),
		analysisID:   "analysis-1",
		fs:           afero.NewMemMapFs(),
		stdout:       &bytes.Buffer{},
		outputFormat: outputFormatJSON,
		outputFile:   "/report.json",
		gatherer:     registry,
		logger:       logger,
	}
}

func readReport(t *testing.T, o *TestRunAnalyzerOptions) *Report {
	t.Helper()
	raw, err := afero.ReadFile(o.fs, o.outputFile)
	require.NoError(t, err)
	report := &Report{}
	require.NoError(t, json.Unmarshal(raw, report))
	return report
}

func TestRun(t *testing.T) {
	_, artifacts := newArtifacts(t)
	o := newOptions(t, artifacts, nil)
	inserter := &recordingInserter{}
	o.issueInserter = inserter
	o.metricsFile = filepath.Join(t.TempDir(), "metrics.prom")

	require.NoError(t, o.Run(context.Background()))

	report := readReport(t, o)
	assert.Equal(t, "analysis-1", report.AnalysisID)
	assert.Equal(t, len(artifacts), report.Artifacts)
	require.Len(t, report.Runs, 5)
	if diff := cmp.Diff(map[string]int{"A": 3, "B": 1}, report.Runs[1].Tests); diff != "" {
		t.Errorf("unexpected tests of run 1 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[testrunanalyzerapi.Severity]int{testrunanalyzerapi.SeverityInfo: 1, testrunanalyzerapi.SeverityWarning: 1}, report.Summary); diff != "" {
		t.Errorf("unexpected summary (-want +got):\n%s", diff)
	}

	require.Len(t, report.Results, 2)
	trendResult, readerResult := report.Results[0], report.Results[1]

	expectedTrend := testrunanalyzerapi.AnalysisResult{
		Anchor:      artifactPath("A", 1, 0),
		PerformedAt: baseTime.Add(24 * time.Hour),
		Issues: []testrunanalyzerapi.Issue{
			{
				Analyzer:       testcountanalyzer.AnalyzerName,
				Message:        "Test count difference trend starts: A, 2 tests missing",
				Classification: testrunanalyzerapi.ClassificationMissingData,
				Severity:       testrunanalyzerapi.SeverityWarning,
				Details: []string{
					"Start:          step 1 (" + artifactPath("A", 1, 0) + ")",
					"Start at:       2022-03-02T08:00:00Z",
					"End:            step 3 (" + artifactPath("A", 3, 0) + ")",
					"End at:         2022-03-04T08:00:00Z",
					"Count change:   -2",
					"Status:         closed",
				},
			},
		},
	}
	if diff := cmp.Diff(expectedTrend, trendResult); diff != "" {
		t.Errorf("unexpected trend result (-want +got):\n%s", diff)
	}

	assert.Equal(t, brokenArtifact, readerResult.Anchor)
	require.Len(t, readerResult.Issues, 1)
	readerIssue := readerResult.Issues[0]
	assert.Equal(t, ReaderName, readerIssue.Analyzer)
	assert.Equal(t, testrunanalyzerapi.ClassificationEnvironmentProblem, readerIssue.Classification)
	assert.Equal(t, testrunanalyzerapi.SeverityInfo, readerIssue.Severity)
	assert.True(t, strings.HasPrefix(readerIssue.Message, "Artifact could not be loaded: "), readerIssue.Message)
	assert.Contains(t, readerIssue.Message, "file does not exist")

	require.Len(t, inserter.rows, 2)
	for _, row := range inserter.rows {
		assert.Equal(t, "analysis-1", row.AnalysisID)
	}

	metrics, err := os.ReadFile(o.metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "testrun_analyzer_prefetch_completed_total")
}

func TestRunNamesOnly(t *testing.T) {
	_, artifacts := newArtifacts(t)
	o := newOptions(t, artifacts, nil)
	o.readerOptions = append(o.readerOptions, testrunanalyzerlib.WithSelector(needsPayload))

	require.NoError(t, o.Run(context.Background()))

	report := readReport(t, o)
	require.Len(t, report.Results, 1)
	assert.Equal(t, artifactPath("A", 1, 0), report.Results[0].Anchor)
	if diff := cmp.Diff(map[testrunanalyzerapi.Severity]int{testrunanalyzerapi.SeverityWarning: 1}, report.Summary); diff != "" {
		t.Errorf("unexpected summary (-want +got):\n%s", diff)
	}
}

func TestNeedsPayload(t *testing.T) {
	for name, expected := range map[string]bool{
		"/data/A_100msHOST.20220301-080000.json": false,
		"/data/A_100msHOST.json":                 true,
		"/data/A_0msHOST.20220301-080000.json":   true,
		"/data/unparseable.json":                 true,
	} {
		artifact := testrunanalyzerapi.NewArtifact(name, time.Time{}, nil)
		if actual := needsPayload(artifact); actual != expected {
			t.Errorf("%s: expected %v, got %v", name, expected, actual)
		}
	}
}

func TestRunFailures(t *testing.T) {
	testCases := []struct {
		name     string
		listErr  error
		mutate   func(*TestRunAnalyzerOptions)
		expected string
	}{
		{
			name:     "listing fails",
			listErr:  errors.New("bucket is gone"),
			expected: string(results.ReasonEnumeration),
		},
		{
			name: "invalid selection",
			mutate: func(o *TestRunAnalyzerOptions) {
				o.selection.RunIndex = 12
			},
			expected: string(results.ReasonSelection),
		},
		{
			name: "materialization fails",
			mutate: func(o *TestRunAnalyzerOptions) {
				o.failOnMaterializeError = true
			},
			expected: string(results.ReasonMaterialization),
		},
		{
			name: "invalid reader options",
			mutate: func(o *TestRunAnalyzerOptions) {
				o.readerOptions = append(o.readerOptions, testrunanalyzerlib.WithMaxParallel(0))
			},
			expected: string(results.ReasonLoadingArgs),
		},
		{
			name: "upload fails",
			mutate: func(o *TestRunAnalyzerOptions) {
				o.issueInserter = &recordingInserter{err: errors.New("quota exceeded")}
			},
			expected: string(results.ReasonUpload),
		},
		{
			name: "unknown output format",
			mutate: func(o *TestRunAnalyzerOptions) {
				o.outputFormat = "xml"
			},
			expected: string(results.ReasonWritingOutput),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, artifacts := newArtifacts(t)
			o := newOptions(t, artifacts, tc.listErr)
			if tc.mutate != nil {
				tc.mutate(o)
			}
			err := o.Run(context.Background())
			require.Error(t, err)
			if diff := cmp.Diff(tc.expected, results.FullReason(err)); diff != "" {
				t.Errorf("unexpected reason (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunWithoutArtifacts(t *testing.T) {
	o := newOptions(t, nil, nil)
	o.outputFile = ""
	o.outputFormat = outputFormatYAML
	stdout := &bytes.Buffer{}
	o.stdout = stdout

	require.NoError(t, o.Run(context.Background()))
	testhelper.CompareWithFixture(t, stdout.String())
}
