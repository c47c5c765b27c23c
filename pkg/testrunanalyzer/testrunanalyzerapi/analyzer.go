package testrunanalyzerapi

import (
	"context"
)

// Analyzer inspects the selected artifacts and publishes its findings into an IssueSink.
// AnalyzeArtifact is called once per artifact in time order with the extract loaded.
// AnalyzeRuns is called once after the last artifact.
type Analyzer interface {
	Name() string
	AnalyzeArtifact(ctx context.Context, artifact Artifact, sink IssueSink) error
	AnalyzeRuns(ctx context.Context, runs []*TestRun, sink IssueSink) error
}
