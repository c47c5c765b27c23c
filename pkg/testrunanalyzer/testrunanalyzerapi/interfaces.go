package testrunanalyzerapi

import (
	"context"
	"io"
	"time"

	"k8s.io/apimachinery/pkg/util/yaml"
)

// Anchor is anything an issue or a trend boundary can be attached to.
type Anchor interface {
	GetName() string
	GetPerformedAt() time.Time
}

// Artifact is a handle to one executed test. The metadata is parsed once from the
// stored object name. Once the payload was loaded, the test name, machine and, for names
// without a timestamp, the time recorded in it take precedence. Runs are grouped before
// anything is loaded, so grouping and ordering always follow the name or the store time. The extract payload is heavy: it is loaded
// by Materialize and may be dropped again with Release once the caller is done with it.
// The backing store can vary by impl, local filesystems (afero) and GCS buckets are supported.
type Artifact interface {
	Anchor

	GetTestName() string
	GetMachineName() string
	// GetDuration is the test duration encoded in the artifact name, zero if absent.
	GetDuration() time.Duration

	// Materialize loads the extract payload. It is a no-op if the payload is already loaded.
	Materialize(ctx context.Context) error
	// GetExtract returns the loaded payload or nil.
	GetExtract() *Extract
	Release()
}

// IssueSink accepts findings of the analyzers.
type IssueSink interface {
	AddIssue(anchor Anchor, issue Issue)
}

// Extract is the payload of one artifact, written as JSON or YAML by the extraction tooling.
type Extract struct {
	TestName    string             `json:"testName,omitempty"`
	Machine     string             `json:"machine,omitempty"`
	PerformedAt *time.Time         `json:"performedAt,omitempty"`
	DurationMs  int64              `json:"durationMs,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

func ParseExtract(r io.Reader) (*Extract, error) {
	extract := &Extract{}
	if err := yaml.NewYAMLOrJSONDecoder(r, 4096).Decode(extract); err != nil {
		return nil, err
	}
	return extract, nil
}
