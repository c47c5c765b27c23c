package testrunanalyzerapi

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// OpenFunc opens the stored payload of an artifact.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

type storedArtifact struct {
	name        string
	parsed      ArtifactName
	performedAt time.Time
	open        OpenFunc

	lock    sync.Mutex
	extract *Extract
	// recorded holds the identity fields of the last loaded payload, kept after Release.
	recorded recordedIdentity
}

type recordedIdentity struct {
	testName    string
	machine     string
	performedAt time.Time
}

// NewArtifact creates an artifact for a stored object. storedAt is used for ordering when
// the name does not carry a timestamp.
func NewArtifact(name string, storedAt time.Time, open OpenFunc) Artifact {
	parsed := ParseArtifactName(name)
	performedAt := parsed.PerformedAt
	if performedAt.IsZero() {
		performedAt = storedAt
	}
	return &storedArtifact{
		name:        name,
		parsed:      parsed,
		performedAt: performedAt,
		open:        open,
	}
}

func (a *storedArtifact) GetName() string {
	return a.name
}

// GetPerformedAt is the time from the name or the store. A loaded payload only supplies the
// time when the name carries none.
func (a *storedArtifact) GetPerformedAt() time.Time {
	if a.parsed.PerformedAt.IsZero() {
		a.lock.Lock()
		defer a.lock.Unlock()
		if !a.recorded.performedAt.IsZero() {
			return a.recorded.performedAt
		}
	}
	return a.performedAt
}
func (a *storedArtifact) GetTestName() string {
	a.lock.Lock()
	defer a.lock.Unlock()
	if len(a.recorded.testName) > 0 {
		return a.recorded.testName
	}
	return a.parsed.TestName
}
func (a *storedArtifact) GetMachineName() string {
	a.lock.Lock()
	defer a.lock.Unlock()
	if len(a.recorded.machine) > 0 {
		return a.recorded.machine
	}
	return a.parsed.Machine
}
func (a *storedArtifact) GetDuration() time.Duration {
	return a.parsed.Duration
}

// Materialize does not hold the lock while reading, a slow store must not block the
// accessors. Concurrent calls may both read the payload, the last one wins.
func (a *storedArtifact) Materialize(ctx context.Context) error {
	if a.GetExtract() != nil {
		return nil
	}

	reader, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", a.name, err)
	}
	defer reader.Close()

	extract, err := ParseExtract(reader)
	if err != nil {
		return fmt.Errorf("failed to parse %q: %w", a.name, err)
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.extract = extract
	a.recorded = recordedIdentity{testName: extract.TestName, machine: extract.Machine}
	if extract.PerformedAt != nil {
		a.recorded.performedAt = extract.PerformedAt.UTC()
	}
	return nil
}

func (a *storedArtifact) GetExtract() *Extract {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.extract
}

func (a *storedArtifact) Release() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.extract = nil
}

// SortArtifacts orders artifacts ascending by time, ties broken by name.
func SortArtifacts(artifacts []Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		ti, tj := artifacts[i].GetPerformedAt(), artifacts[j].GetPerformedAt()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return artifacts[i].GetName() < artifacts[j].GetName()
	})
}

// DurationOf prefers the duration recorded in a loaded extract over the one in the name.
func DurationOf(artifact Artifact) time.Duration {
	if extract := artifact.GetExtract(); extract != nil && extract.DurationMs > 0 {
		return time.Duration(extract.DurationMs) * time.Millisecond
	}
	return artifact.GetDuration()
}
