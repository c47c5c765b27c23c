package testrunanalyzeranalyzer

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/clock"

	"github.com/openshift/testrun-analyzer/pkg/results"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerlib"
)

// ReaderName is the analyzer name of issues about artifacts that could not be loaded.
const ReaderName = "Reader"

type TestRunAnalyzerOptions struct {
	enumerator    testrunanalyzerlib.CandidateEnumerator
	selection     testrunanalyzerlib.RunSelection
	analyzers     []testrunanalyzerapi.Analyzer
	readerOptions []testrunanalyzerlib.PrefetchOption

	failOnMaterializeError bool
	clock                  clock.PassiveClock
	analysisID             string

	fs           afero.Fs
	stdout       io.Writer
	outputFormat string
	outputFile   string

	// issueInserter is nil when no BigQuery table was configured
	issueInserter testrunanalyzerlib.BigQueryInserter
	metricsFile   string
	gatherer      prometheus.Gatherer
	logger        logrus.FieldLogger
}

func (o *TestRunAnalyzerOptions) Run(ctx context.Context) error {
	logger := o.logger.WithField("analysis", o.analysisID)

	candidates, err := o.enumerator.ListArtifacts(ctx)
	if err != nil {
		return results.ForReason(results.ReasonEnumeration).WithError(err).Errorf("failed to list artifacts: %v", err)
	}
	logger.WithField("candidates", len(candidates)).Info("Listed artifacts")

	runs, err := o.selection.Select(o.clock.Now(), candidates)
	if err != nil {
		return results.ForReason(results.ReasonSelection).WithError(err).Errorf("failed to select test runs: %v", err)
	}
	artifacts := testrunanalyzerlib.AllArtifacts(runs)
	logger.WithFields(logrus.Fields{"runs": len(runs), "artifacts": len(artifacts)}).Info("Selected test runs")

	collection := testrunanalyzerapi.NewResultCollection()
	if err := o.analyzeArtifacts(ctx, artifacts, collection, logger); err != nil {
		return err
	}
	for _, analyzer := range o.analyzers {
		if err := analyzer.AnalyzeRuns(ctx, runs, collection); err != nil {
			return results.ForReason(results.ReasonAnalysis).WithError(err).Errorf("analyzer %s failed: %v", analyzer.Name(), err)
		}
	}

	report := NewReport(o.analysisID, runs, artifacts, collection)
	logger.WithFields(logrus.Fields{
		"anchors": len(report.Results),
		"info":    report.Summary[testrunanalyzerapi.SeverityInfo],
		"warning": report.Summary[testrunanalyzerapi.SeverityWarning],
		"fatal":   report.Summary[testrunanalyzerapi.SeverityFatal],
	}).Info("Analysis finished")

	if err := o.writeReport(report); err != nil {
		return results.ForReason(results.ReasonWritingOutput).WithError(err).Errorf("failed to write the analysis results: %v", err)
	}

	if o.issueInserter != nil {
		rows := collection.Rows(o.analysisID)
		if len(rows) > 0 {
			if err := o.issueInserter.Put(ctx, rows); err != nil {
				return results.ForReason(results.ReasonUpload).WithError(err).Errorf("failed to upload %d issues: %v", len(rows), err)
			}
		}
		logger.WithField("rows", len(rows)).Info("Uploaded issues")
	}

	if len(o.metricsFile) > 0 {
		if err := prometheus.WriteToTextfile(o.metricsFile, o.gatherer); err != nil {
			return results.ForReason(results.ReasonWritingOutput).WithError(err).Errorf("failed to write metrics to %s: %v", o.metricsFile, err)
		}
	}
	return nil
}

// analyzeArtifacts feeds every artifact to the analyzers in time order while the next ones are
// loaded in the background. Each payload is released once all analyzers have seen it.
func (o *TestRunAnalyzerOptions) analyzeArtifacts(ctx context.Context, artifacts []testrunanalyzerapi.Artifact, sink testrunanalyzerapi.IssueSink, logger logrus.FieldLogger) error {
	reader, err := testrunanalyzerlib.NewPrefetchingReader(testrunanalyzerlib.MaterializeArtifact, o.readerOptions...)
	if err != nil {
		return results.ForReason(results.ReasonLoadingArgs).ForError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, handle := range reader.Start(ctx, artifacts) {
		artifact, err := handle.Get(ctx)
		if err != nil {
			name := handle.Artifact().GetName()
			if o.failOnMaterializeError || ctx.Err() != nil {
				return results.ForReason(results.ReasonMaterialization).WithError(err).Errorf("failed to load %s: %v", name, err)
			}
			logger.WithError(err).WithField("artifact", name).Warning("Skipping artifact that could not be loaded")
			sink.AddIssue(handle.Artifact(), testrunanalyzerapi.Issue{
				Analyzer:       ReaderName,
				Message:        fmt.Sprintf("Artifact could not be loaded: %v", err),
				Classification: testrunanalyzerapi.ClassificationEnvironmentProblem,
				Severity:       testrunanalyzerapi.SeverityInfo,
			})
			continue
		}

		for _, analyzer := range o.analyzers {
			if err := analyzer.AnalyzeArtifact(ctx, artifact, sink); err != nil {
				artifact.Release()
				return results.ForReason(results.ReasonAnalysis).WithError(err).Errorf("analyzer %s failed on %s: %v", analyzer.Name(), artifact.GetName(), err)
			}
		}
		artifact.Release()
	}
	return nil
}

// needsPayload selects the artifacts whose name lacks the test name, duration or time.
func needsPayload(artifact testrunanalyzerapi.Artifact) bool {
	parsed := testrunanalyzerapi.ParseArtifactName(artifact.GetName())
	return !parsed.Valid || parsed.Duration == 0 || parsed.PerformedAt.IsZero()
}

func (o *TestRunAnalyzerOptions) writeReport(report *Report) error {
	if len(o.outputFile) == 0 {
		return report.Write(o.stdout, o.outputFormat)
	}

	out, err := o.fs.Create(o.outputFile)
	if err != nil {
		return err
	}
	if err := report.Write(out, o.outputFormat); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
